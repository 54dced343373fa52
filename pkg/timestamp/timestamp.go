// Package timestamp normalizes the timestamp shapes devices put on the
// wire. Firmware reports time as epoch seconds, epoch milliseconds, or an
// RFC3339 string depending on vendor; everything is canonicalized to Unix
// milliseconds, with 0 meaning "not reported".
package timestamp

import (
	"strconv"
	"time"
)

// The seconds/milliseconds cutover. Epoch values above this are already
// milliseconds; below it they are seconds (1e12 seconds is the year 33658).
const msThreshold = 1e12

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds, 0 for the zero time.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time, zero time for 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders a timestamp as RFC3339 UTC, empty string for 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts a device-reported timestamp to Unix milliseconds.
// Accepts epoch seconds or milliseconds as int64/float64/int, numeric
// strings, RFC3339 strings, and time.Time. Returns 0 for anything it
// cannot interpret; negative epochs are rejected the same way.
func Parse(input any) int64 {
	switch v := input.(type) {
	case nil:
		return 0

	case int64:
		return fromEpoch(v)

	case int:
		return fromEpoch(int64(v))

	case float64:
		if v > msThreshold {
			return int64(v)
		}
		if v <= 0 {
			return 0
		}
		return int64(v * 1000)

	case string:
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return ToUnixMs(t)
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return Parse(f)
		}
		return 0

	case time.Time:
		return ToUnixMs(v)

	default:
		return 0
	}
}

func fromEpoch(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v > msThreshold {
		return v
	}
	return v * 1000
}
