package ruleengine

import (
	"strconv"
	"sync"
	"time"
)

// debounceTracker implements required-duration confirmation windows. A
// window opens on the first qualifying sample and confirms once the
// condition has held for the rule's duration; a non-qualifying sample
// closes it. Alert rules and automations share one tracker under
// namespaced keys, so their windows never collide.
type debounceTracker struct {
	mu      sync.Mutex
	windows map[string]debounceWindow
	grace   time.Duration
}

// debounceWindow tracks one open confirmation window. A window past its
// expiry is ignored, which restarts the count when a device resumes
// reporting after a long gap.
type debounceWindow struct {
	firstSatisfiedAt time.Time
	expiresAt        time.Time
}

func newDebounceTracker(grace time.Duration) *debounceTracker {
	return &debounceTracker{
		windows: make(map[string]debounceWindow),
		grace:   grace,
	}
}

// alertKey namespaces a window for an alert rule
func alertKey(ruleID int64) string {
	return "alert:" + strconv.FormatInt(ruleID, 10)
}

// automationKey namespaces a window for an automation
func automationKey(automationID int64) string {
	return "automation:" + strconv.FormatInt(automationID, 10)
}

// observe records a satisfied condition at now and reports whether the
// window confirms. A zero duration confirms immediately without opening a
// window. Confirming closes the window, so a refire needs a fresh full
// window.
func (d *debounceTracker) observe(key string, duration time.Duration, now time.Time) bool {
	if duration <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	window, ok := d.windows[key]
	if !ok || now.After(window.expiresAt) {
		d.windows[key] = debounceWindow{
			firstSatisfiedAt: now,
			expiresAt:        now.Add(duration + d.grace),
		}
		return false
	}

	if now.Sub(window.firstSatisfiedAt) >= duration {
		delete(d.windows, key)
		return true
	}
	return false
}

// reset closes a window after a non-qualifying sample
func (d *debounceTracker) reset(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.windows, key)
}

// sweep drops expired windows. Called from the poll loop so windows for
// devices that stopped reporting do not accumulate.
func (d *debounceTracker) sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, window := range d.windows {
		if now.After(window.expiresAt) {
			delete(d.windows, key)
			removed++
		}
	}
	return removed
}

// openWindows returns the number of live windows
func (d *debounceTracker) openWindows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
