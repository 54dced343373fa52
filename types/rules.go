package types

import "time"

// AlertRule defines an alerting condition over one device metric. Rules are
// created and edited outside the core; the rule engine only ever reads a
// cached snapshot.
type AlertRule struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	DeviceID    int64    `json:"device_id"`
	MetricKey   string   `json:"telemetry_key"`
	Operator    Operator `json:"condition"`
	Threshold   any      `json:"threshold_value"`
	DurationSec int      `json:"trigger_duration_sec"`
	Enabled     bool     `json:"is_enabled"`
	ChannelIDs  []int64  `json:"notification_channel_ids"`
}

// Duration returns the required-duration as a time.Duration. Zero means the
// rule fires on the first qualifying sample.
func (r AlertRule) Duration() time.Duration {
	return time.Duration(r.DurationSec) * time.Second
}

// Matches reports whether a sample belongs to this rule's (device, metric).
func (r AlertRule) Matches(deviceID int64, metricKey string) bool {
	return r.DeviceID == deviceID && r.MetricKey == metricKey
}

// TriggerKind discriminates how an automation is triggered.
type TriggerKind string

// Automation trigger kinds
const (
	TriggerTelemetry TriggerKind = "telemetry"
	TriggerSchedule  TriggerKind = "schedule"
)

// TriggerConfig holds the telemetry-trigger condition of an automation.
type TriggerConfig struct {
	DeviceID    int64    `json:"device_id"`
	MetricKey   string   `json:"metric_key"`
	Operator    Operator `json:"condition"`
	Threshold   any      `json:"value"`
	DurationSec int      `json:"duration_sec"`
}

// Duration returns the required-duration as a time.Duration.
func (tc TriggerConfig) Duration() time.Duration {
	return time.Duration(tc.DurationSec) * time.Second
}

// ActionKind discriminates automation actions.
type ActionKind string

// Automation action kinds
const (
	ActionDeviceCommand ActionKind = "device_command"
	ActionNotify        ActionKind = "notify"
)

// AutomationAction is one step of an automation's ordered action list.
// Exactly the fields for its Kind are set; the rest stay zero.
type AutomationAction struct {
	Kind       ActionKind     `json:"type"`
	DeviceID   int64          `json:"device_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ChannelIDs []int64        `json:"channel_ids,omitempty"`
}

// AutomationRule defines a scene automation. The core only evaluates rules
// of kind telemetry; schedule-triggered automations belong to an external
// scheduler.
type AutomationRule struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	TriggerKind     TriggerKind        `json:"trigger_type"`
	Trigger         TriggerConfig      `json:"trigger_config"`
	Actions         []AutomationAction `json:"actions"`
	Enabled         bool               `json:"is_enabled"`
	LastTriggeredAt *time.Time         `json:"last_triggered_at,omitempty"`
}
