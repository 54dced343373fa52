package command

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// trackerMetrics holds Prometheus metrics for command correlation
type trackerMetrics struct {
	sentTotal     prometheus.Counter
	resolvedTotal *prometheus.CounterVec
}

// newTrackerMetrics creates and registers tracker metrics. Returns nil if
// no registry is provided; recording methods are nil-safe.
func newTrackerMetrics(registry *metric.MetricsRegistry) *trackerMetrics {
	if registry == nil {
		return nil
	}

	m := &trackerMetrics{
		sentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Commands queued for dispatch",
		}),

		resolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "command",
			Name:      "resolved_total",
			Help:      "Commands resolved by terminal status",
		}, []string{"status"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.sentTotal,
		m.resolvedTotal,
	)

	return m
}

func (m *trackerMetrics) recordSent() {
	if m == nil {
		return
	}
	m.sentTotal.Inc()
}

func (m *trackerMetrics) recordResolved(status string) {
	if m == nil {
		return
	}
	m.resolvedTotal.WithLabelValues(status).Inc()
}
