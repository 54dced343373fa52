// Package command implements the command correlation tracker. Every
// outbound device command gets a unique request id that travels to the
// device and back in its reply; the tracker resolves each id exactly once,
// either by the reply or by the timeout sweep, and broadcasts the outcome.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/types"
)

// Store is the command request lifecycle persistence.
type Store interface {
	DeviceByID(ctx context.Context, id int64) (types.Device, error)
	InsertCommandRequest(ctx context.Context, req types.CommandRequest) error
	MarkCommandReplied(ctx context.Context, requestID string, status types.CommandStatus, repliedAt time.Time) (bool, error)
	SweepStaleCommands(ctx context.Context, olderThan time.Time) ([]types.CommandRequest, error)
}

// Queue is the outbound command queue and broadcast surface.
type Queue interface {
	Push(ctx context.Context, queue string, v any) error
	PublishEvent(ctx context.Context, event types.Event) error
}

// TrackerDeps holds runtime dependencies for the command tracker.
type TrackerDeps struct {
	Config   config.CommandConfig
	Store    Store
	Queue    Queue
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Tracker is the command correlation component.
type Tracker struct {
	cfg     config.CommandConfig
	store   Store
	queue   Queue
	logger  *slog.Logger
	metrics *trackerMetrics

	// test hook
	now func() time.Time

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewTracker creates the command tracker.
func NewTracker(deps TrackerDeps) *Tracker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "command")
	}

	return &Tracker{
		cfg:     deps.Config,
		store:   deps.Store,
		queue:   deps.Queue,
		logger:  logger,
		metrics: newTrackerMetrics(deps.Registry),
		now:     time.Now,
	}
}

// Initialize validates dependencies before Start.
func (t *Tracker) Initialize() error {
	if t.store == nil || t.queue == nil {
		return errors.WrapInvalid(errors.New("missing dependency"), "command", "Initialize", "dependency check")
	}
	return nil
}

// Start begins the timeout sweep loop. Idempotent while running.
func (t *Tracker) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return nil
	}

	t.shutdown = make(chan struct{})
	t.done = make(chan struct{})

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.done)
		t.sweepLoop(ctx)
	}()

	t.logger.Info("command tracker started",
		"reply_timeout", t.cfg.ReplyTimeout, "sweep_interval", t.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep loop and waits up to timeout.
func (t *Tracker) Stop(timeout time.Duration) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}
	close(t.shutdown)

	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.New("sweep loop did not stop"), "command", "Stop", "await shutdown")
	}
}

// newRequestID builds a correlation id unique across instances
func (t *Tracker) newRequestID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("cmd_%d_%s", t.now().UnixMilli(), suffix)
}

// Send records an outbound command and queues it for publication on the
// device's downlink subject. The request id is injected into the payload
// so the device can echo it back.
func (t *Tracker) Send(ctx context.Context, deviceID int64, payload map[string]any) (types.CommandRequest, error) {
	device, err := t.store.DeviceByID(ctx, deviceID)
	if err != nil {
		return types.CommandRequest{}, errors.Wrap(err, "command", "Send", "resolve device")
	}

	now := t.now()
	req := types.CommandRequest{
		RequestID: t.newRequestID(),
		DeviceID:  deviceID,
		Topic:     types.DownstreamCommandSubject(device.UID),
		Payload:   payload,
		Status:    types.CommandSent,
		SentAt:    now,
	}

	if err := t.store.InsertCommandRequest(ctx, req); err != nil {
		return types.CommandRequest{}, errors.Wrap(err, "command", "Send", "record request")
	}

	wire := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		wire[k] = v
	}
	wire["request_id"] = req.RequestID
	wire["timestamp"] = now.Unix()

	data, err := json.Marshal(wire)
	if err != nil {
		return types.CommandRequest{}, errors.WrapInvalid(err, "command", "Send", "encode payload")
	}

	envelope := types.CommandEnvelope{
		Topic:   req.Topic,
		Payload: data,
		QoS:     1,
	}
	if err := t.queue.Push(ctx, broker.QueueCommandSend, envelope); err != nil {
		return types.CommandRequest{}, errors.Wrap(err, "command", "Send", "queue command")
	}

	t.metrics.recordSent()
	t.logger.Info("command queued",
		"request_id", req.RequestID, "device_id", deviceID, "topic", req.Topic)
	return req, nil
}

// HandleReply resolves a pending command from a device reply. A reply for
// an unknown or already-resolved request returns ErrUnknownRequest; the
// caller logs and drops it.
func (t *Tracker) HandleReply(ctx context.Context, device types.Device, payload map[string]any) error {
	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		return errors.WrapInvalid(errors.ErrInvalidPayload, "command", "HandleReply", "missing request_id")
	}

	status := replyStatus(payload)
	now := t.now()

	updated, err := t.store.MarkCommandReplied(ctx, requestID, status, now)
	if err != nil {
		return errors.Wrap(err, "command", "HandleReply", "resolve request")
	}
	if !updated {
		return errors.ErrUnknownRequest
	}

	t.metrics.recordResolved(string(status))

	if err := t.queue.PublishEvent(ctx,
		types.NewCommandReplyEvent(requestID, device.ID, status, payload)); err != nil {
		t.logger.Warn("failed to broadcast command reply", "request_id", requestID, "error", err)
	}

	t.logger.Info("command resolved",
		"request_id", requestID, "device_id", device.ID, "status", string(status))
	return nil
}

// replyStatus maps a device reply payload to a terminal status. Devices
// report either a success boolean or a status string; only an explicit
// "ok" (or success=true) counts as success, anything else is an error.
func replyStatus(payload map[string]any) types.CommandStatus {
	if success, ok := payload["success"].(bool); ok {
		if success {
			return types.CommandRepliedOK
		}
		return types.CommandRepliedError
	}
	if status, ok := payload["status"].(string); ok && strings.ToLower(status) == "ok" {
		return types.CommandRepliedOK
	}
	return types.CommandRepliedError
}

// sweepLoop expires unanswered commands on a fixed cadence.
func (t *Tracker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.SweepOnce(ctx)
		}
	}
}

// SweepOnce times out commands older than the reply deadline and
// broadcasts each timeout. Returns the number of commands expired.
func (t *Tracker) SweepOnce(ctx context.Context) int {
	deadline := t.now().Add(-t.cfg.ReplyTimeout)

	timedOut, err := t.store.SweepStaleCommands(ctx, deadline)
	if err != nil {
		t.logger.Warn("command sweep failed", "error", err)
		return 0
	}

	for _, req := range timedOut {
		t.metrics.recordResolved(string(types.CommandTimeout))
		if err := t.queue.PublishEvent(ctx,
			types.NewCommandReplyEvent(req.RequestID, req.DeviceID, types.CommandTimeout, nil)); err != nil {
			t.logger.Warn("failed to broadcast command timeout", "request_id", req.RequestID, "error", err)
		}
	}

	if len(timedOut) > 0 {
		t.logger.Info("expired unanswered commands", "count", len(timedOut))
	}
	return len(timedOut)
}
