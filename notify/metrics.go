package notify

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// consumerMetrics holds Prometheus metrics for notification delivery
type consumerMetrics struct {
	deliveredTotal prometheus.Counter
	channelsTotal  prometheus.Counter
	failedTotal    prometheus.Counter
	skippedTotal   prometheus.Counter
}

// newConsumerMetrics creates and registers notify metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newConsumerMetrics(registry *metric.MetricsRegistry) *consumerMetrics {
	if registry == nil {
		return nil
	}

	m := &consumerMetrics{
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Notification tasks delivered",
		}),

		channelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notify",
			Name:      "channels_total",
			Help:      "Channel sends across delivered tasks",
		}),

		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notify",
			Name:      "failed_total",
			Help:      "Notification delivery failures",
		}),

		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "notify",
			Name:      "skipped_total",
			Help:      "Malformed notification tasks dropped",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.deliveredTotal,
		m.channelsTotal,
		m.failedTotal,
		m.skippedTotal,
	)

	return m
}

func (m *consumerMetrics) recordDelivered(channels int) {
	if m == nil {
		return
	}
	m.deliveredTotal.Inc()
	m.channelsTotal.Add(float64(channels))
}

func (m *consumerMetrics) recordFailed() {
	if m == nil {
		return
	}
	m.failedTotal.Inc()
}

func (m *consumerMetrics) recordSkipped() {
	if m == nil {
		return
	}
	m.skippedTotal.Inc()
}
