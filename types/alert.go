package types

import "time"

// AlertStatus is the lifecycle state of an alert event.
type AlertStatus string

// Alert lifecycle states. The core only creates triggered events;
// acknowledgement and resolution happen through the management API.
const (
	AlertTriggered    AlertStatus = "triggered"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// AlertEvent records one confirmed rule match.
type AlertEvent struct {
	ID             int64       `json:"id"`
	RuleID         int64       `json:"rule_id"`
	DeviceID       int64       `json:"device_id"`
	TriggeredAt    time.Time   `json:"triggered_at"`
	TriggeredValue any         `json:"triggered_value"`
	Status         AlertStatus `json:"status"`
	AcknowledgedBy *int64      `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
}

// NotifyTask is a queued notification delivery request, consumed by the
// notification collaborator.
type NotifyTask struct {
	ChannelIDs []int64        `json:"channel_ids"`
	Title      string         `json:"title"`
	Body       string         `json:"content"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Valid reports whether the task can be delivered.
func (t NotifyTask) Valid() bool {
	return len(t.ChannelIDs) > 0 && t.Title != ""
}
