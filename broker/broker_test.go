package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/natsclient"
)

func TestStreamNaming(t *testing.T) {
	assert.Equal(t, "HG_ingest", streamName(QueueIngest))
	assert.Equal(t, "hg.q.ingest", queueSubject(QueueIngest))
	assert.Equal(t, "HG_alert_stream", streamName(QueueAlertStream))
	assert.Equal(t, "hg.q.command_send", queueSubject(QueueCommandSend))
	assert.Equal(t, "hg.q.notify", queueSubject(QueueNotify))
}

func TestPopBatchUnknownQueue(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	b := New(client, nil)
	_, err = b.PopBatch(context.Background(), "bogus", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown queue")
}

func TestMetricsNilRegistry(t *testing.T) {
	m := newBrokerMetrics(nil)
	require.Nil(t, m)

	// Recording through a nil receiver must not panic
	m.recordPush(QueueIngest)
	m.recordPop(QueueIngest, 3)
	m.recordPushError(QueueIngest)
	m.recordPopError(QueueIngest)
}

func TestMetricsRegistered(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := newBrokerMetrics(registry)
	require.NotNil(t, m)

	m.recordPush(QueueIngest)
	m.recordPop(QueueIngest, 5)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["homeguardian_broker_pushed_total"])
	assert.True(t, names["homeguardian_broker_popped_total"])
}
