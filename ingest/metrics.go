package ingest

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// routerMetrics holds Prometheus metrics for the ingestion router
type routerMetrics struct {
	samplesTotal      prometheus.Counter
	droppedTotal      *prometheus.CounterVec
	commandsSentTotal prometheus.Counter
	stateChangesTotal *prometheus.CounterVec
}

// newRouterMetrics creates and registers router metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newRouterMetrics(registry *metric.MetricsRegistry) *routerMetrics {
	if registry == nil {
		return nil
	}

	m := &routerMetrics{
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Telemetry samples accepted and queued",
		}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Messages dropped by reason",
		}, []string{"reason"}),

		commandsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "commands_sent_total",
			Help:      "Commands published to device downlink subjects",
		}),

		stateChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "ingest",
			Name:      "state_changes_total",
			Help:      "Device online/offline transitions applied",
		}, []string{"state"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.samplesTotal,
		m.droppedTotal,
		m.commandsSentTotal,
		m.stateChangesTotal,
	)

	return m
}

func (m *routerMetrics) recordSample() {
	if m == nil {
		return
	}
	m.samplesTotal.Inc()
}

func (m *routerMetrics) recordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(reason).Inc()
}

func (m *routerMetrics) recordCommandSent() {
	if m == nil {
		return
	}
	m.commandsSentTotal.Inc()
}

func (m *routerMetrics) recordStateChange(online bool) {
	if m == nil {
		return
	}
	state := "offline"
	if online {
		state = "online"
	}
	m.stateChangesTotal.WithLabelValues(state).Inc()
}
