package types

import "time"

// EventType discriminates broadcast envelopes pushed to live connections.
type EventType string

// Broadcast event types
const (
	EventTelemetry    EventType = "telemetry"
	EventDeviceStatus EventType = "device_status"
	EventAlert        EventType = "alert"
	EventCommandReply EventType = "command_reply"
)

// Event is the JSON envelope published on the internal broadcast channel
// and delivered verbatim to live connections. Data always carries enough
// identity for location-based filtering.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// Location returns the device location the event is scoped to, or the empty
// string for events without location context (delivered to everyone).
func (e Event) Location() string {
	if e.Data == nil {
		return ""
	}
	loc, _ := e.Data["device_location"].(string)
	return loc
}

// NewTelemetryEvent builds the broadcast envelope for a telemetry uplink.
// Values carries the full raw key/value set from the device.
func NewTelemetryEvent(device Device, values map[string]any, ts time.Time) Event {
	return Event{
		Type: EventTelemetry,
		Data: map[string]any{
			"device_id":       device.ID,
			"device_uid":      device.UID,
			"device_location": device.Location,
			"values":          values,
			"ts":              ts.Format(time.RFC3339Nano),
		},
	}
}

// NewDeviceStatusEvent builds the broadcast envelope for an online/offline
// transition.
func NewDeviceStatusEvent(device Device, online bool) Event {
	return Event{
		Type: EventDeviceStatus,
		Data: map[string]any{
			"device_id":       device.ID,
			"device_uid":      device.UID,
			"device_location": device.Location,
			"is_online":       online,
		},
	}
}

// NewAlertEvent builds the broadcast envelope for a confirmed alert.
func NewAlertEvent(event AlertEvent, rule AlertRule, location string) Event {
	return Event{
		Type: EventAlert,
		Data: map[string]any{
			"alert_id":        event.ID,
			"rule_id":         rule.ID,
			"rule_name":       rule.Name,
			"device_id":       event.DeviceID,
			"device_location": location,
			"value":           event.TriggeredValue,
			"triggered_at":    event.TriggeredAt.Format(time.RFC3339Nano),
		},
	}
}

// NewCommandReplyEvent builds the broadcast envelope for a command outcome.
func NewCommandReplyEvent(requestID string, deviceID int64, status CommandStatus, reply map[string]any) Event {
	return Event{
		Type: EventCommandReply,
		Data: map[string]any{
			"request_id": requestID,
			"device_id":  deviceID,
			"status":     string(status),
			"reply":      reply,
		},
	}
}
