package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/errors"
)

func TestParseUplinkSubject(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		want    UplinkTopic
		wantErr bool
	}{
		{
			name:    "telemetry report",
			subject: "home.upstream.dev-a1b2.telemetry.report",
			want:    UplinkTopic{DeviceUID: "dev-a1b2", Module: ModuleTelemetry, Action: "report"},
		},
		{
			name:    "state online",
			subject: "home.upstream.dev-a1b2.state.online",
			want:    UplinkTopic{DeviceUID: "dev-a1b2", Module: ModuleState, Action: "online"},
		},
		{
			name:    "command reply",
			subject: "home.upstream.dev-a1b2.command.reply",
			want:    UplinkTopic{DeviceUID: "dev-a1b2", Module: ModuleCommand, Action: "reply"},
		},
		{name: "too few segments", subject: "home.upstream.dev-a1b2.telemetry", wantErr: true},
		{name: "too many segments", subject: "home.upstream.dev-a1b2.telemetry.report.extra", wantErr: true},
		{name: "wrong prefix", subject: "home.downstream.dev-a1b2.command.set", wantErr: true},
		{name: "unknown module", subject: "home.upstream.dev-a1b2.firmware.report", wantErr: true},
		{name: "empty uid", subject: "home.upstream..telemetry.report", wantErr: true},
		{name: "empty subject", subject: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUplinkSubject(tt.subject)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrInvalidTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDownstreamCommandSubject(t *testing.T) {
	assert.Equal(t, "home.downstream.dev-a1b2.command.set", DownstreamCommandSubject("dev-a1b2"))
}

func TestParseModule(t *testing.T) {
	m, ok := ParseModule("telemetry")
	assert.True(t, ok)
	assert.Equal(t, ModuleTelemetry, m)
	assert.Equal(t, "telemetry", m.String())

	_, ok = ParseModule("ota")
	assert.False(t, ok)
}
