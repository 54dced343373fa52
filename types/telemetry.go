// Package types defines the domain model shared across the realtime core:
// telemetry samples, alert and automation rules, command requests, and the
// broadcast envelopes pushed to live connections. String-keyed protocol
// fields (module, operator, action kind, event type) are modeled as closed
// enumerations so dispatch is exhaustive at compile time instead of being
// string matching scattered through the code.
package types

import (
	"time"
)

// Device is the resolved identity of a telemetry producer.
type Device struct {
	ID       int64  `json:"id"`
	UID      string `json:"device_uid"`
	Name     string `json:"name,omitempty"`
	Location string `json:"location"`
	Online   bool   `json:"is_online"`
}

// TelemetrySample is one metric reading from one device. Samples are
// immutable and append-only: the router creates them, the persistence store
// owns them afterwards.
type TelemetrySample struct {
	DeviceID  int64     `json:"device_id"`
	MetricKey string    `json:"metric_key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"ts"`
}

// Valid reports whether the sample carries enough identity to be persisted
// or evaluated. Malformed queue items are skipped, never fatal.
func (s TelemetrySample) Valid() bool {
	return s.DeviceID != 0 && s.MetricKey != "" && s.Value != nil
}

// reservedMetricKeys are payload fields that ride along with telemetry but
// are not metrics themselves.
var reservedMetricKeys = map[string]struct{}{
	"timestamp":  {},
	"request_id": {},
}

// IsReservedMetricKey reports whether a telemetry payload key is metadata
// rather than a metric.
func IsReservedMetricKey(key string) bool {
	_, ok := reservedMetricKeys[key]
	return ok
}
