package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewReport(t *testing.T) {
	report := NewReport([]Status{NewHealthy("broker"), NewHealthy("store")})
	assert.True(t, report.Healthy)

	report = NewReport([]Status{NewHealthy("broker"), NewUnhealthy("store", "ping failed")})
	assert.False(t, report.Healthy)
	assert.Equal(t, StatusUnhealthy, report.Components[1].Status)

	assert.True(t, NewReport(nil).Healthy)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"url", "dial nats://10.0.0.1:4222 failed", "dial [URL] failed"},
		{"bare address", "connect 192.168.1.50:5432 refused", "connect [ADDR] refused"},
		{"credential", "bad dsn password=hunter2 rejected", "bad dsn password=[REDACTED] rejected"},
		{"plain", "liveness check failed", "liveness check failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestUnhealthyMessageSanitized(t *testing.T) {
	s := NewUnhealthy("store", "cannot reach postgres://user@db:5432/hg")
	assert.Equal(t, "cannot reach [URL]", s.Message)
	assert.False(t, s.Healthy)
}
