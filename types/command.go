package types

import (
	"encoding/json"
	"time"
)

// CommandStatus is the delivery state of an outbound device command.
type CommandStatus string

// Command delivery states. A row is mutated exactly once after creation:
// by the matching reply or by the timeout sweep.
const (
	CommandSent         CommandStatus = "sent"
	CommandDelivered    CommandStatus = "delivered"
	CommandRepliedOK    CommandStatus = "replied_ok"
	CommandRepliedError CommandStatus = "replied_error"
	CommandTimeout      CommandStatus = "timeout"
)

// Resolved reports whether the command has reached a terminal state.
func (s CommandStatus) Resolved() bool {
	switch s {
	case CommandRepliedOK, CommandRepliedError, CommandTimeout:
		return true
	default:
		return false
	}
}

// CommandRequest tracks one outbound command through its lifecycle.
// RequestID is the sole correlation key; devices echo it back in replies.
type CommandRequest struct {
	RequestID string         `json:"request_id"`
	DeviceID  int64          `json:"device_id"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	Status    CommandStatus  `json:"status"`
	SentAt    time.Time      `json:"sent_at"`
	RepliedAt *time.Time     `json:"replied_at,omitempty"`
}

// CommandEnvelope is the queued form of an outbound publish: the router
// drains these and republishes them on the device's downstream topic.
type CommandEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	QoS     int             `json:"qos"`
}
