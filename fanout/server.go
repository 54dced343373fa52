// Package fanout implements the live websocket fan-out server. Broadcast
// events from the internal channel are pushed to every connected client
// whose authorization scope covers the event's device location. Delivery
// is best effort: a slow or dead connection is dropped, never waited on.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/types"
)

// Identity is the resolved principal behind a live connection.
type Identity struct {
	UserID    int64
	Username  string
	Locations []string
	Admin     bool
}

// CanSee reports whether this identity may receive events for a location.
// Admins and identities with no location scope see everything; events
// without location context go to every authenticated client.
func (id Identity) CanSee(location string) bool {
	if id.Admin || len(id.Locations) == 0 || location == "" {
		return true
	}
	for _, allowed := range id.Locations {
		if allowed == location {
			return true
		}
	}
	return false
}

// TokenVerifier authenticates connection tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// EventSource delivers broadcast events from the internal channel.
type EventSource interface {
	SubscribeEvents(ctx context.Context, handler func(types.Event)) error
}

// controlMessage is the only client-to-server payload the protocol knows
type controlMessage struct {
	Type string `json:"type"`
}

var pongPayload = []byte(`{"type":"pong"}`)

// client is one live connection.
type client struct {
	conn     *websocket.Conn
	identity Identity

	connectedAt time.Time
	lastPong    atomic.Value // stores time.Time
	closed      atomic.Bool
	closeOnce   sync.Once

	// gorilla/websocket panics on concurrent writes
	writeMu sync.Mutex
}

// ServerDeps holds runtime dependencies for the fan-out server.
type ServerDeps struct {
	Config   config.FanoutConfig
	Verifier TokenVerifier
	Source   EventSource
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Server is the websocket fan-out component.
type Server struct {
	cfg      config.FanoutConfig
	verifier TokenVerifier
	source   EventSource
	logger   *slog.Logger
	metrics  *serverMetrics

	upgrader  websocket.Upgrader
	httpServ  *http.Server
	clients   map[*websocket.Conn]*client
	clientsMu sync.RWMutex

	shutdown chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates the fan-out server.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "fanout")
	}

	return &Server{
		cfg:      deps.Config,
		verifier: deps.Verifier,
		source:   deps.Source,
		logger:   logger,
		metrics:  newServerMetrics(deps.Registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
	}
}

// Initialize validates dependencies before Start.
func (s *Server) Initialize() error {
	if s.verifier == nil || s.source == nil {
		return errors.WrapInvalid(errors.New("missing dependency"), "fanout", "Initialize", "dependency check")
	}
	if s.cfg.Port < 1 || s.cfg.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "fanout", "Initialize", "config check")
	}
	return nil
}

// Start subscribes to the broadcast channel and serves the websocket
// endpoint. Idempotent while running.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}

	s.shutdown = make(chan struct{})

	if err := s.source.SubscribeEvents(ctx, s.Broadcast); err != nil {
		s.running.Store(false)
		return errors.Wrap(err, "fanout", "Start", "subscribe broadcast channel")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)

	s.httpServ = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServ.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket server failed", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.maintainClients(ctx)
	}()

	s.logger.Info("fan-out server started", "port", s.cfg.Port, "path", s.cfg.Path)
	return nil
}

// Stop closes the listener and every live connection.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	if s.httpServ != nil {
		err = s.httpServ.Shutdown(ctx)
	}

	s.clientsMu.Lock()
	for conn, c := range s.clients {
		c.close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "fanout", "Stop", "await shutdown")
	}
	return err
}

// ClientCount returns the number of live connections
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleWebSocket authenticates and upgrades one connection. The token
// rides in the query string since browser websocket clients cannot set
// headers.
func (s *Server) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.metrics.recordRejected("missing_token")
		http.Error(wr, "missing token", http.StatusUnauthorized)
		return
	}

	identity, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		s.metrics.recordRejected("invalid_token")
		http.Error(wr, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		s.metrics.recordRejected("upgrade_failed")
		return
	}

	c := &client{
		conn:        conn,
		identity:    identity,
		connectedAt: time.Now(),
	}
	c.lastPong.Store(time.Now())

	s.clientsMu.Lock()
	s.clients[conn] = c
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.recordConnected(count)
	s.logger.Info("client connected",
		"user_id", identity.UserID, "username", identity.Username,
		"admin", identity.Admin, "clients", count)

	welcome, _ := json.Marshal(map[string]any{
		"type":     "welcome",
		"user_id":  identity.UserID,
		"username": identity.Username,
	})
	if err := s.send(c, welcome); err != nil {
		s.removeClient(c)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// readLoop consumes client messages. The only expected payload is an
// application-level ping, answered with a pong on the same connection.
func (s *Server) readLoop(c *client) {
	defer s.removeClient(c)

	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now())
		return nil
	})

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.lastPong.Store(time.Now())

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := s.send(c, pongPayload); err != nil {
				return
			}
		}
	}
}

// Broadcast delivers one event to every authorized live connection.
// Encoding happens once and each connection gets its own send goroutine,
// so a slow client stalls only itself; dead connections found on the way
// are dropped.
func (s *Server) Broadcast(event types.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to encode broadcast event", "error", err)
		return
	}

	location := event.Location()

	s.clientsMu.RLock()
	recipients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.closed.Load() && c.identity.CanSee(location) {
			recipients = append(recipients, c)
		}
	}
	s.clientsMu.RUnlock()

	var sends sync.WaitGroup
	var delivered atomic.Int64
	for _, c := range recipients {
		sends.Add(1)
		go func(c *client) {
			defer sends.Done()
			if err := s.send(c, data); err != nil {
				s.removeClient(c)
				return
			}
			delivered.Add(1)
		}(c)
	}
	sends.Wait()

	s.metrics.recordBroadcast(string(event.Type), int(delivered.Load()))
}

// send writes one frame with a deadline, serialized per connection.
func (s *Server) send(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// maintainClients pings connections and drops the unresponsive.
func (s *Server) maintainClients(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pingClients()
		}
	}
}

func (s *Server) pingClients() {
	s.clientsMu.RLock()
	list := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if !c.closed.Load() {
			list = append(list, c)
		}
	}
	s.clientsMu.RUnlock()

	for _, c := range list {
		if lastPong, ok := c.lastPong.Load().(time.Time); ok && time.Since(lastPong) > 2*time.Minute {
			s.logger.Info("dropping unresponsive client", "user_id", c.identity.UserID)
			s.removeClient(c)
			continue
		}

		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteMessage(websocket.PingMessage, nil)
		c.writeMu.Unlock()
		if err != nil {
			s.removeClient(c)
		}
	}
}

// removeClient closes and unregisters one connection, exactly once.
func (s *Server) removeClient(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.close()

		s.clientsMu.Lock()
		delete(s.clients, c.conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		s.metrics.recordDisconnected(count)
		s.logger.Info("client disconnected", "user_id", c.identity.UserID, "clients", count)
	})
}

func (c *client) close() {
	c.closed.Store(true)
	_ = c.conn.Close()
}
