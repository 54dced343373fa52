package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := Wrap(ErrUnknownRequest, "Tracker", "HandleReply", "lookup request")
	assert.True(t, Is(err, ErrUnknownRequest))
	assert.Contains(t, err.Error(), "Tracker.HandleReply")
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"transient wrap", WrapTransient(New("boom"), "c", "m", "a"), ErrorTransient},
		{"invalid wrap", WrapInvalid(New("boom"), "c", "m", "a"), ErrorInvalid},
		{"fatal wrap", WrapFatal(New("boom"), "c", "m", "a"), ErrorFatal},
		{"connection sentinel", ErrConnectionLost, ErrorTransient},
		{"topic sentinel", ErrInvalidTopic, ErrorInvalid},
		{"missing config", ErrMissingConfig, ErrorFatal},
		{"deadline", context.DeadlineExceeded, ErrorTransient},
		{"unknown defaults transient", New("mystery"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsTransientTextFallback(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, IsTransient(fmt.Errorf("read timeout on socket")))
	assert.False(t, IsTransient(fmt.Errorf("value out of range")))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	base := New("base")
	wrapped := WrapTransient(base, "Writer", "flush", "bulk insert")

	var ce *ClassifiedError
	assert.True(t, As(wrapped, &ce))
	assert.Equal(t, "Writer", ce.Component)
	assert.Equal(t, "flush", ce.Operation)
	assert.True(t, Is(wrapped, base))
}
