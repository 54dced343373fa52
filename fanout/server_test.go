package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/types"
)

type stubVerifier struct {
	identities map[string]Identity
}

func (v stubVerifier) Verify(_ context.Context, token string) (Identity, error) {
	id, ok := v.identities[token]
	if !ok {
		return Identity{}, fmt.Errorf("unknown token %q", token)
	}
	return id, nil
}

type stubSource struct {
	handler func(types.Event)
}

func (s *stubSource) SubscribeEvents(_ context.Context, handler func(types.Event)) error {
	s.handler = handler
	return nil
}

func newTestServer(t *testing.T, identities map[string]Identity) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer(ServerDeps{
		Config:   config.FanoutConfig{Port: 8788, Path: "/ws"},
		Verifier: stubVerifier{identities: identities},
		Source:   &stubSource{},
	})
	s.shutdown = make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(func() {
		close(s.shutdown)
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// consume the welcome frame so tests only see broadcast traffic
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"welcome"`)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event types.Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestIdentityCanSee(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		location string
		want     bool
	}{
		{"admin sees everything", Identity{Admin: true, Locations: []string{"kitchen"}}, "garage", true},
		{"no scope sees everything", Identity{}, "garage", true},
		{"scoped match", Identity{Locations: []string{"kitchen", "garage"}}, "garage", true},
		{"scoped mismatch", Identity{Locations: []string{"kitchen"}}, "garage", false},
		{"unlocated event reaches scoped user", Identity{Locations: []string{"kitchen"}}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.identity.CanSee(tt.location))
		})
	}
}

func TestBroadcastLocationFiltering(t *testing.T) {
	s, ts := newTestServer(t, map[string]Identity{
		"admin":   {UserID: 1, Username: "admin", Admin: true},
		"kitchen": {UserID: 2, Username: "cook", Locations: []string{"kitchen"}},
		"garage":  {UserID: 3, Username: "mechanic", Locations: []string{"garage"}},
	})

	adminConn := dial(t, ts, "admin")
	kitchenConn := dial(t, ts, "kitchen")
	garageConn := dial(t, ts, "garage")

	require.Eventually(t, func() bool { return s.ClientCount() == 3 },
		time.Second, 10*time.Millisecond)

	device := types.Device{ID: 7, UID: "th-01", Location: "kitchen"}
	s.Broadcast(types.NewTelemetryEvent(device, map[string]any{"temperature": 22.5}, time.Now()))

	for _, conn := range []*websocket.Conn{adminConn, kitchenConn} {
		event := readEvent(t, conn)
		assert.Equal(t, types.EventTelemetry, event.Type)
		assert.Equal(t, "kitchen", event.Location())
	}

	require.NoError(t, garageConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := garageConn.ReadMessage()
	assert.Error(t, err, "out-of-scope client must not receive the event")
}

func TestBroadcastUnlocatedEventReachesEveryone(t *testing.T) {
	s, ts := newTestServer(t, map[string]Identity{
		"kitchen": {UserID: 2, Locations: []string{"kitchen"}},
		"garage":  {UserID: 3, Locations: []string{"garage"}},
	})

	conns := []*websocket.Conn{dial(t, ts, "kitchen"), dial(t, ts, "garage")}
	require.Eventually(t, func() bool { return s.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	s.Broadcast(types.NewCommandReplyEvent("cmd_1_abc", 7, types.CommandRepliedOK, map[string]any{"ok": true}))

	for _, conn := range conns {
		event := readEvent(t, conn)
		assert.Equal(t, types.EventCommandReply, event.Type)
		assert.Equal(t, "cmd_1_abc", event.Data["request_id"])
	}
}

func TestPingControlMessage(t *testing.T) {
	s, ts := newTestServer(t, map[string]Identity{"u": {UserID: 1}})

	conn := dial(t, ts, "u")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestConnectionRejectedWithoutValidToken(t *testing.T) {
	_, ts := newTestServer(t, map[string]Identity{"good": {UserID: 1}})

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?token=bad"
	_, resp2, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if resp2 != nil {
		assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	}
}

func TestDeadClientRemovedOnBroadcast(t *testing.T) {
	s, ts := newTestServer(t, map[string]Identity{"u": {UserID: 1}})

	conn := dial(t, ts, "u")
	require.Eventually(t, func() bool { return s.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		s.Broadcast(types.NewDeviceStatusEvent(types.Device{ID: 1, UID: "d"}, true))
		return s.ClientCount() == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestInitializeValidation(t *testing.T) {
	s := NewServer(ServerDeps{
		Config:   config.FanoutConfig{Port: 8788, Path: "/ws"},
		Verifier: stubVerifier{},
		Source:   &stubSource{},
	})
	require.NoError(t, s.Initialize())

	bad := NewServer(ServerDeps{Config: config.FanoutConfig{Port: 0, Path: "/ws"}, Verifier: stubVerifier{}, Source: &stubSource{}})
	assert.Error(t, bad.Initialize())

	missing := NewServer(ServerDeps{Config: config.FanoutConfig{Port: 8788, Path: "/ws"}})
	assert.Error(t, missing.Initialize())
}

func TestBroadcastStalledClientDoesNotDelayOthers(t *testing.T) {
	s, ts := newTestServer(t, map[string]Identity{
		"stuck": {UserID: 1, Username: "stuck"},
		"live":  {UserID: 2, Username: "live"},
	})

	_ = dial(t, ts, "stuck")
	liveConn := dial(t, ts, "live")

	require.Eventually(t, func() bool { return s.ClientCount() == 2 },
		time.Second, 10*time.Millisecond)

	// Hold one connection's write lock so its send stalls mid-broadcast
	var stuck *client
	s.clientsMu.RLock()
	for _, c := range s.clients {
		if c.identity.Username == "stuck" {
			stuck = c
		}
	}
	s.clientsMu.RUnlock()
	require.NotNil(t, stuck)

	stuck.writeMu.Lock()
	defer stuck.writeMu.Unlock()

	device := types.Device{ID: 7, UID: "th-01", Location: "kitchen"}
	go s.Broadcast(types.NewTelemetryEvent(device, map[string]any{"temperature": 22.5}, time.Now()))

	// The other client still gets the event while the stall lasts
	event := readEvent(t, liveConn)
	assert.Equal(t, types.EventTelemetry, event.Type)
}
