package ruleengine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// engineMetrics holds Prometheus metrics for rule evaluation
type engineMetrics struct {
	evaluationsTotal *prometheus.CounterVec
	triggersTotal    *prometheus.CounterVec
	activeRules      *prometheus.GaugeVec
}

// newEngineMetrics creates and registers engine metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newEngineMetrics(registry *metric.MetricsRegistry) *engineMetrics {
	if registry == nil {
		return nil
	}

	m := &engineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by kind and outcome",
		}, []string{"kind", "result"}),

		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "rules",
			Name:      "triggers_total",
			Help:      "Confirmed triggers by kind",
		}, []string{"kind"}),

		activeRules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "rules",
			Name:      "active_definitions",
			Help:      "Definitions in the current snapshot",
		}, []string{"kind"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.evaluationsTotal,
		m.triggersTotal,
		m.activeRules,
	)

	return m
}

func (m *engineMetrics) recordEvaluation(kind string, satisfied bool) {
	if m == nil {
		return
	}
	result := "no_match"
	if satisfied {
		result = "match"
	}
	m.evaluationsTotal.WithLabelValues(kind, result).Inc()
}

func (m *engineMetrics) recordTrigger(kind string) {
	if m == nil {
		return
	}
	m.triggersTotal.WithLabelValues(kind).Inc()
}

func (m *engineMetrics) recordSnapshot(alertRules, automations int) {
	if m == nil {
		return
	}
	m.activeRules.WithLabelValues("alert").Set(float64(alertRules))
	m.activeRules.WithLabelValues("automation").Set(float64(automations))
}
