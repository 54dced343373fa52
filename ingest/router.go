// Package ingest implements the ingestion router: the single subscriber on
// the device uplink wildcard. It resolves device identity, fans telemetry
// into the persistence and rule-evaluation queues, applies state
// transitions, correlates command replies, and drains the outbound command
// queue back onto device downlink subjects.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/pkg/cache"
	"github.com/longczx/home-guardian/pkg/timestamp"
	"github.com/longczx/home-guardian/types"
)

// lastSeenRefreshInterval caps how often steady-state telemetry writes
// last_seen for an already-online device.
const lastSeenRefreshInterval = time.Minute

// DeviceStore resolves device identity and records liveness transitions.
type DeviceStore interface {
	DeviceByUID(ctx context.Context, uid string) (types.Device, error)
	SetDeviceOnline(ctx context.Context, deviceID int64, online bool, seenAt time.Time) error
}

// Queue is the internal queue and broadcast surface the router feeds.
type Queue interface {
	Push(ctx context.Context, queue string, v any) error
	PopBatch(ctx context.Context, queue string, max int) ([][]byte, error)
	PublishEvent(ctx context.Context, event types.Event) error
}

// Bus is the device-facing pub/sub surface.
type Bus interface {
	Subscribe(ctx context.Context, subject string, handler func(ctx context.Context, subject string, data []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// LatestWriter stores the most recent sample set per device.
type LatestWriter interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// ReplyHandler receives correlated command replies.
type ReplyHandler interface {
	HandleReply(ctx context.Context, device types.Device, payload map[string]any) error
}

// RouterDeps holds runtime dependencies for the ingestion router.
type RouterDeps struct {
	Config   config.IngestConfig
	Devices  DeviceStore
	Queue    Queue
	Bus      Bus
	Latest   LatestWriter
	Replies  ReplyHandler
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Router is the ingestion component.
type Router struct {
	cfg     config.IngestConfig
	devices DeviceStore
	queue   Queue
	bus     Bus
	latest  LatestWriter
	replies ReplyHandler
	logger  *slog.Logger
	metrics *routerMetrics

	deviceCache *cache.LRU[types.Device]
	seenCache   *cache.LRU[time.Time]

	// test hook
	now func() time.Time

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewRouter creates the ingestion router.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ingest")
	}

	size := deps.Config.DeviceCacheSize
	if size < 1 {
		size = 1024
	}

	return &Router{
		cfg:         deps.Config,
		devices:     deps.Devices,
		queue:       deps.Queue,
		bus:         deps.Bus,
		latest:      deps.Latest,
		replies:     deps.Replies,
		logger:      logger,
		metrics:     newRouterMetrics(deps.Registry),
		deviceCache: cache.NewLRU[types.Device](size),
		seenCache:   cache.NewLRU[time.Time](size),
		now:         time.Now,
	}
}

// Initialize validates dependencies before Start.
func (r *Router) Initialize() error {
	if r.devices == nil || r.queue == nil || r.bus == nil {
		return errors.WrapInvalid(errors.New("missing dependency"), "ingest", "Initialize", "dependency check")
	}
	return nil
}

// Start subscribes to the uplink wildcard and starts the command drain
// loop. Idempotent while running.
func (r *Router) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})

	if err := r.bus.Subscribe(ctx, types.UpstreamWildcard, r.handleUplink); err != nil {
		r.running.Store(false)
		return errors.Wrap(err, "ingest", "Start", "subscribe uplink wildcard")
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.drainCommands(ctx)
	}()

	r.logger.Info("ingestion router started", "subject", types.UpstreamWildcard)
	return nil
}

// Stop halts the drain loop and waits up to timeout.
func (r *Router) Stop(timeout time.Duration) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}
	close(r.shutdown)

	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.New("drain loop did not stop"), "ingest", "Stop", "await shutdown")
	}
}

// handleUplink routes one uplink message by its subject shape. Malformed
// subjects and unknown devices are dropped with a log line; one bad
// message never affects the rest of the flow.
func (r *Router) handleUplink(ctx context.Context, subject string, data []byte) {
	topic, err := types.ParseUplinkSubject(subject)
	if err != nil {
		r.metrics.recordDropped("bad_topic")
		r.logger.Warn("dropping message with invalid subject", "subject", subject)
		return
	}

	device, err := r.resolveDevice(ctx, topic.DeviceUID)
	if err != nil {
		r.metrics.recordDropped("unknown_device")
		r.logger.Warn("dropping message from unknown device", "device_uid", topic.DeviceUID)
		return
	}

	switch topic.Module {
	case types.ModuleTelemetry:
		r.handleTelemetry(ctx, device, data)
	case types.ModuleState:
		r.handleState(ctx, device, topic.Action, data)
	case types.ModuleCommand:
		r.handleCommandReply(ctx, device, data)
	default:
		r.metrics.recordDropped("unknown_module")
	}
}

// resolveDevice looks up a device by UID, cache first.
func (r *Router) resolveDevice(ctx context.Context, uid string) (types.Device, error) {
	if device, ok := r.deviceCache.Get(uid); ok {
		return device, nil
	}

	device, err := r.devices.DeviceByUID(ctx, uid)
	if err != nil {
		return types.Device{}, err
	}

	r.deviceCache.Set(uid, device)
	return device, nil
}

// handleTelemetry splits a telemetry payload into per-metric samples,
// queues them for persistence and rule evaluation, refreshes the
// latest-value cache and broadcasts the reading.
func (r *Router) handleTelemetry(ctx context.Context, device types.Device, data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		r.metrics.recordDropped("bad_payload")
		r.logger.Warn("dropping malformed telemetry payload", "device_uid", device.UID, "error", err)
		return
	}

	now := r.now()
	ts := payloadTimestamp(payload, now)

	// an uplink from a device marked offline implies it came back
	if !device.Online {
		if err := r.devices.SetDeviceOnline(ctx, device.ID, true, now); err != nil {
			r.logger.Error("failed to persist device status", "device_id", device.ID, "error", err)
		} else {
			device.Online = true
			r.deviceCache.Set(device.UID, device)
			r.seenCache.Set(device.UID, now)
			r.metrics.recordStateChange(true)
			if err := r.queue.PublishEvent(ctx, types.NewDeviceStatusEvent(device, true)); err != nil {
				r.logger.Warn("failed to broadcast device status", "device_id", device.ID, "error", err)
			}
		}
	} else if last, ok := r.seenCache.Get(device.UID); !ok || now.Sub(last) >= lastSeenRefreshInterval {
		// steady-state reporting still refreshes last_seen, capped per device
		if err := r.devices.SetDeviceOnline(ctx, device.ID, true, now); err != nil {
			r.logger.Warn("failed to refresh last seen", "device_id", device.ID, "error", err)
		} else {
			r.seenCache.Set(device.UID, now)
		}
	}

	for key, value := range payload {
		if types.IsReservedMetricKey(key) || value == nil {
			continue
		}

		sample := types.TelemetrySample{
			DeviceID:  device.ID,
			MetricKey: key,
			Value:     value,
			Timestamp: ts,
		}

		if err := r.queue.Push(ctx, broker.QueueIngest, sample); err != nil {
			r.logger.Error("failed to queue sample for persistence",
				"device_id", device.ID, "metric", key, "error", err)
		}
		if err := r.queue.Push(ctx, broker.QueueAlertStream, sample); err != nil {
			r.logger.Error("failed to queue sample for evaluation",
				"device_id", device.ID, "metric", key, "error", err)
		}

		r.metrics.recordSample()
	}

	// the API reads the whole sample set back in one lookup
	if r.latest != nil {
		key := latestValueKey(device.ID)
		if err := r.latest.PutJSON(ctx, key, payload); err != nil {
			r.logger.Warn("failed to refresh latest value", "key", key, "error", err)
		}
	}

	if err := r.queue.PublishEvent(ctx, types.NewTelemetryEvent(device, payload, ts)); err != nil {
		r.logger.Warn("failed to broadcast telemetry", "device_id", device.ID, "error", err)
	}
}

// handleState applies an online/offline transition. The offline path also
// covers broker last-will messages published on the device's behalf.
func (r *Router) handleState(ctx context.Context, device types.Device, action string, data []byte) {
	online := false
	switch action {
	case "online":
		online = true
	case "offline":
	default:
		// the state is carried in the payload; anything other than an
		// explicit "online" status, including its absence, means offline
		var payload struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(data, &payload)
		online = payload.Status == "online"
	}

	if device.Online == online {
		return
	}

	now := r.now()
	if err := r.devices.SetDeviceOnline(ctx, device.ID, online, now); err != nil {
		r.logger.Error("failed to persist device status", "device_id", device.ID, "error", err)
		return
	}

	device.Online = online
	r.deviceCache.Set(device.UID, device)
	if online {
		r.seenCache.Set(device.UID, now)
	}
	r.metrics.recordStateChange(online)

	if err := r.queue.PublishEvent(ctx, types.NewDeviceStatusEvent(device, online)); err != nil {
		r.logger.Warn("failed to broadcast device status", "device_id", device.ID, "error", err)
	}
}

// handleCommandReply hands a reply payload to the correlation tracker.
func (r *Router) handleCommandReply(ctx context.Context, device types.Device, data []byte) {
	if r.replies == nil {
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		r.metrics.recordDropped("bad_payload")
		r.logger.Warn("dropping malformed command reply", "device_uid", device.UID, "error", err)
		return
	}

	if err := r.replies.HandleReply(ctx, device, payload); err != nil {
		if errors.Is(err, errors.ErrUnknownRequest) {
			r.metrics.recordDropped("unknown_request")
			r.logger.Warn("reply for unknown request", "device_uid", device.UID)
			return
		}
		r.logger.Error("failed to handle command reply", "device_id", device.ID, "error", err)
	}
}

// drainCommands republishes queued outbound commands on their downlink
// subjects at the configured cadence.
func (r *Router) drainCommands(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CommandDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

// drainOnce pops one batch from the command queue and publishes each
// envelope. A malformed envelope is logged and skipped.
func (r *Router) drainOnce(ctx context.Context) {
	items, err := r.queue.PopBatch(ctx, broker.QueueCommandSend, r.cfg.CommandDrainBatch)
	if err != nil {
		r.logger.Warn("command queue drain failed", "error", err)
		return
	}

	for _, item := range items {
		var envelope types.CommandEnvelope
		if err := json.Unmarshal(item, &envelope); err != nil || envelope.Topic == "" {
			r.metrics.recordDropped("bad_envelope")
			r.logger.Warn("skipping malformed command envelope", "error", err)
			continue
		}

		if err := r.bus.Publish(ctx, envelope.Topic, envelope.Payload); err != nil {
			r.logger.Error("failed to publish command", "topic", envelope.Topic, "error", err)
			continue
		}
		r.metrics.recordCommandSent()
	}
}

// latestValueKey is the KV key holding a device's newest sample set
func latestValueKey(deviceID int64) string {
	return "device." + strconv.FormatInt(deviceID, 10)
}

// payloadTimestamp extracts the device-reported timestamp, falling back to
// the receive time for absent or unparseable values.
func payloadTimestamp(payload map[string]any, fallback time.Time) time.Time {
	ms := timestamp.Parse(payload["timestamp"])
	if ms == 0 {
		return fallback
	}
	return timestamp.FromUnixMs(ms)
}
