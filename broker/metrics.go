package broker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// brokerMetrics holds Prometheus metrics for queue traffic
type brokerMetrics struct {
	pushedTotal *prometheus.CounterVec
	poppedTotal *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

// newBrokerMetrics creates and registers broker metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newBrokerMetrics(registry *metric.MetricsRegistry) *brokerMetrics {
	if registry == nil {
		return nil
	}

	m := &brokerMetrics{
		pushedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broker",
			Name:      "pushed_total",
			Help:      "Items pushed per queue",
		}, []string{"queue"}),

		poppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broker",
			Name:      "popped_total",
			Help:      "Items popped per queue",
		}, []string{"queue"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "broker",
			Name:      "errors_total",
			Help:      "Queue operation failures",
		}, []string{"queue", "operation"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.pushedTotal,
		m.poppedTotal,
		m.errorsTotal,
	)

	return m
}

func (m *brokerMetrics) recordPush(queue string) {
	if m == nil {
		return
	}
	m.pushedTotal.WithLabelValues(queue).Inc()
}

func (m *brokerMetrics) recordPop(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.poppedTotal.WithLabelValues(queue).Add(float64(n))
}

func (m *brokerMetrics) recordPushError(queue string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(queue, "push").Inc()
}

func (m *brokerMetrics) recordPopError(queue string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(queue, "pop").Inc()
}
