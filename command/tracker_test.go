package command

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

type fakeStore struct {
	devices  map[int64]types.Device
	inserted []types.CommandRequest
	resolved map[string]types.CommandStatus
	stale    []types.CommandRequest
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		devices: map[int64]types.Device{
			7: {ID: 7, UID: "dev-a1b2", Location: "kitchen"},
		},
		resolved: make(map[string]types.CommandStatus),
	}
}

func (f *fakeStore) DeviceByID(_ context.Context, id int64) (types.Device, error) {
	device, ok := f.devices[id]
	if !ok {
		return types.Device{}, errors.ErrUnknownDevice
	}
	return device, nil
}

func (f *fakeStore) InsertCommandRequest(_ context.Context, req types.CommandRequest) error {
	f.inserted = append(f.inserted, req)
	return nil
}

func (f *fakeStore) MarkCommandReplied(_ context.Context, requestID string, status types.CommandStatus, _ time.Time) (bool, error) {
	for _, req := range f.inserted {
		if req.RequestID != requestID {
			continue
		}
		if _, done := f.resolved[requestID]; done {
			return false, nil
		}
		f.resolved[requestID] = status
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) SweepStaleCommands(_ context.Context, _ time.Time) ([]types.CommandRequest, error) {
	stale := f.stale
	f.stale = nil
	for _, req := range stale {
		f.resolved[req.RequestID] = types.CommandTimeout
	}
	return stale, nil
}

type fakeQueue struct {
	pushed map[string][]any
	events []types.Event
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pushed: make(map[string][]any)}
}

func (f *fakeQueue) Push(_ context.Context, queue string, v any) error {
	f.pushed[queue] = append(f.pushed[queue], v)
	return nil
}

func (f *fakeQueue) PublishEvent(_ context.Context, event types.Event) error {
	f.events = append(f.events, event)
	return nil
}

func testTracker(t *testing.T) (*Tracker, *fakeStore, *fakeQueue) {
	t.Helper()

	store := newFakeStore()
	queue := newFakeQueue()
	tr := NewTracker(TrackerDeps{
		Config: config.Default().Command,
		Store:  store,
		Queue:  queue,
	})
	require.NoError(t, tr.Initialize())
	return tr, store, queue
}

var requestIDPattern = regexp.MustCompile(`^cmd_\d+_[0-9a-f]{12}$`)

func TestSendQueuesEnvelopeWithRequestID(t *testing.T) {
	tr, store, queue := testTracker(t)

	req, err := tr.Send(context.Background(), 7, map[string]any{"power": "on"})
	require.NoError(t, err)

	assert.Regexp(t, requestIDPattern, req.RequestID)
	assert.Equal(t, "home.downstream.dev-a1b2.command.set", req.Topic)
	assert.Equal(t, types.CommandSent, req.Status)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, req.RequestID, store.inserted[0].RequestID)

	require.Len(t, queue.pushed[broker.QueueCommandSend], 1)
	envelope := queue.pushed[broker.QueueCommandSend][0].(types.CommandEnvelope)
	assert.Equal(t, req.Topic, envelope.Topic)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(envelope.Payload, &wire))
	assert.Equal(t, "on", wire["power"])
	assert.Equal(t, req.RequestID, wire["request_id"])
}

func TestSendUnknownDevice(t *testing.T) {
	tr, _, queue := testTracker(t)

	_, err := tr.Send(context.Background(), 404, map[string]any{"power": "on"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownDevice)
	assert.Empty(t, queue.pushed)
}

func TestRequestIDsUnique(t *testing.T) {
	tr, _, _ := testTracker(t)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		req, err := tr.Send(context.Background(), 7, nil)
		require.NoError(t, err)
		assert.False(t, seen[req.RequestID])
		seen[req.RequestID] = true
	}
}

func TestReplyResolvesOnce(t *testing.T) {
	tr, store, queue := testTracker(t)

	req, err := tr.Send(context.Background(), 7, map[string]any{"power": "on"})
	require.NoError(t, err)

	reply := map[string]any{"request_id": req.RequestID, "success": true}
	require.NoError(t, tr.HandleReply(context.Background(), store.devices[7], reply))
	assert.Equal(t, types.CommandRepliedOK, store.resolved[req.RequestID])

	// One broadcast for the reply
	require.Len(t, queue.events, 1)
	assert.Equal(t, types.EventCommandReply, queue.events[0].Type)
	assert.Equal(t, req.RequestID, queue.events[0].Data["request_id"])

	// A duplicate reply is rejected and not re-broadcast
	err = tr.HandleReply(context.Background(), store.devices[7], reply)
	assert.ErrorIs(t, err, errors.ErrUnknownRequest)
	assert.Len(t, queue.events, 1)
}

func TestReplyUnknownRequest(t *testing.T) {
	tr, store, _ := testTracker(t)

	err := tr.HandleReply(context.Background(), store.devices[7],
		map[string]any{"request_id": "cmd_0_deadbeef0000"})
	assert.ErrorIs(t, err, errors.ErrUnknownRequest)
}

func TestReplyMissingRequestID(t *testing.T) {
	tr, store, _ := testTracker(t)

	err := tr.HandleReply(context.Background(), store.devices[7], map[string]any{"success": true})
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)
}

func TestReplyStatusMapping(t *testing.T) {
	assert.Equal(t, types.CommandRepliedOK, replyStatus(map[string]any{"success": true}))
	assert.Equal(t, types.CommandRepliedError, replyStatus(map[string]any{"success": false}))
	assert.Equal(t, types.CommandRepliedError, replyStatus(map[string]any{"status": "error"}))
	assert.Equal(t, types.CommandRepliedError, replyStatus(map[string]any{"status": "FAILED"}))
	assert.Equal(t, types.CommandRepliedOK, replyStatus(map[string]any{"status": "ok"}))
	assert.Equal(t, types.CommandRepliedOK, replyStatus(map[string]any{"status": "OK"}))
	assert.Equal(t, types.CommandRepliedError, replyStatus(map[string]any{"status": "busy"}))
	assert.Equal(t, types.CommandRepliedError, replyStatus(map[string]any{}))
}

func TestSweepBroadcastsTimeouts(t *testing.T) {
	tr, store, queue := testTracker(t)

	store.stale = []types.CommandRequest{
		{RequestID: "cmd_1_a00000000000", DeviceID: 7, Status: types.CommandTimeout},
		{RequestID: "cmd_2_b00000000000", DeviceID: 7, Status: types.CommandTimeout},
	}

	n := tr.SweepOnce(context.Background())
	assert.Equal(t, 2, n)

	require.Len(t, queue.events, 2)
	assert.Equal(t, types.EventCommandReply, queue.events[0].Type)
	assert.Equal(t, string(types.CommandTimeout), queue.events[0].Data["status"])
}

func TestSweptCommandRejectsLateReply(t *testing.T) {
	tr, store, queue := testTracker(t)

	req, err := tr.Send(context.Background(), 7, nil)
	require.NoError(t, err)

	store.stale = []types.CommandRequest{{RequestID: req.RequestID, DeviceID: 7}}
	tr.SweepOnce(context.Background())

	err = tr.HandleReply(context.Background(), store.devices[7],
		map[string]any{"request_id": req.RequestID, "success": true})
	assert.ErrorIs(t, err, errors.ErrUnknownRequest)
	assert.Equal(t, types.CommandTimeout, store.resolved[req.RequestID])

	// Only the timeout broadcast went out
	assert.Len(t, queue.events, 1)
}
