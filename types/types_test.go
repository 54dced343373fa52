package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTelemetrySampleValid(t *testing.T) {
	ts := time.Now()
	assert.True(t, TelemetrySample{DeviceID: 1, MetricKey: "temperature", Value: 22.5, Timestamp: ts}.Valid())
	assert.False(t, TelemetrySample{MetricKey: "temperature", Value: 22.5}.Valid())
	assert.False(t, TelemetrySample{DeviceID: 1, Value: 22.5}.Valid())
	assert.False(t, TelemetrySample{DeviceID: 1, MetricKey: "temperature"}.Valid())
}

func TestIsReservedMetricKey(t *testing.T) {
	assert.True(t, IsReservedMetricKey("timestamp"))
	assert.True(t, IsReservedMetricKey("request_id"))
	assert.False(t, IsReservedMetricKey("temperature"))
}

func TestCommandStatusResolved(t *testing.T) {
	assert.False(t, CommandSent.Resolved())
	assert.False(t, CommandDelivered.Resolved())
	assert.True(t, CommandRepliedOK.Resolved())
	assert.True(t, CommandRepliedError.Resolved())
	assert.True(t, CommandTimeout.Resolved())
}

func TestEventLocation(t *testing.T) {
	dev := Device{ID: 3, UID: "dev-a1b2", Location: "living_room"}

	ev := NewDeviceStatusEvent(dev, true)
	assert.Equal(t, EventDeviceStatus, ev.Type)
	assert.Equal(t, "living_room", ev.Location())

	reply := NewCommandReplyEvent("cmd_1_ab", 3, CommandRepliedOK, map[string]any{"ok": true})
	assert.Equal(t, "", reply.Location())

	assert.Equal(t, "", Event{Type: EventAlert}.Location())
}

func TestNotifyTaskValid(t *testing.T) {
	assert.True(t, NotifyTask{ChannelIDs: []int64{1}, Title: "alert"}.Valid())
	assert.False(t, NotifyTask{Title: "alert"}.Valid())
	assert.False(t, NotifyTask{ChannelIDs: []int64{1}}.Valid())
}

func TestAlertRuleDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), AlertRule{}.Duration())
	assert.Equal(t, 60*time.Second, AlertRule{DurationSec: 60}.Duration())
	assert.True(t, AlertRule{DeviceID: 1, MetricKey: "temperature"}.Matches(1, "temperature"))
	assert.False(t, AlertRule{DeviceID: 1, MetricKey: "temperature"}.Matches(2, "temperature"))
}
