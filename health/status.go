// Package health provides the status model behind the admin health
// endpoint. Error detail is sanitized before it reaches the wire so a
// failing dependency never leaks connection strings or addresses.
package health

import (
	"regexp"
	"time"
)

// Report statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`[a-z]+://\S+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}(:\d{2,5})?\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)\S*[:=]\S+`)
)

// Status is the liveness report for one component.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthy builds a healthy status for a component.
func NewHealthy(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnhealthy builds an unhealthy status carrying a sanitized message.
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Status:    StatusUnhealthy,
		Message:   Sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// Report is the aggregate response for the health endpoint.
type Report struct {
	Healthy    bool      `json:"healthy"`
	Components []Status  `json:"components"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewReport aggregates component statuses; one unhealthy component makes
// the whole report unhealthy.
func NewReport(statuses []Status) Report {
	healthy := true
	for _, s := range statuses {
		if !s.Healthy {
			healthy = false
			break
		}
	}
	return Report{
		Healthy:    healthy,
		Components: statuses,
		Timestamp:  time.Now().UTC(),
	}
}

// Sanitize strips URLs, addresses and credential fragments from a message.
func Sanitize(message string) string {
	message = credentialRegex.ReplaceAllString(message, "$1=[REDACTED]")
	message = urlRegex.ReplaceAllString(message, "[URL]")
	message = ipAddrRegex.ReplaceAllString(message, "[ADDR]")
	return message
}
