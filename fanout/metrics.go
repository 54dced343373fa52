package fanout

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// serverMetrics holds Prometheus metrics for the fan-out server
type serverMetrics struct {
	clients          prometheus.Gauge
	connectsTotal    prometheus.Counter
	disconnectsTotal prometheus.Counter
	rejectedTotal    *prometheus.CounterVec
	deliveredTotal   *prometheus.CounterVec
}

// newServerMetrics creates and registers fan-out metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "clients",
			Help:      "Live websocket connections",
		}),

		connectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "connects_total",
			Help:      "Accepted websocket connections",
		}),

		disconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "disconnects_total",
			Help:      "Closed websocket connections",
		}),

		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "rejected_total",
			Help:      "Rejected connection attempts by reason",
		}, []string{"reason"}),

		deliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "fanout",
			Name:      "delivered_total",
			Help:      "Events delivered to clients by event type",
		}, []string{"event_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clients,
		m.connectsTotal,
		m.disconnectsTotal,
		m.rejectedTotal,
		m.deliveredTotal,
	)

	return m
}

func (m *serverMetrics) recordConnected(clients int) {
	if m == nil {
		return
	}
	m.connectsTotal.Inc()
	m.clients.Set(float64(clients))
}

func (m *serverMetrics) recordDisconnected(clients int) {
	if m == nil {
		return
	}
	m.disconnectsTotal.Inc()
	m.clients.Set(float64(clients))
}

func (m *serverMetrics) recordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *serverMetrics) recordBroadcast(eventType string, delivered int) {
	if m == nil || delivered == 0 {
		return
	}
	m.deliveredTotal.WithLabelValues(eventType).Add(float64(delivered))
}
