package persist

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// writerMetrics holds Prometheus metrics for the persistence writer
type writerMetrics struct {
	flushedRowsTotal prometheus.Counter
	flushesTotal     prometheus.Counter
	skippedTotal     prometheus.Counter
	errorsTotal      prometheus.Counter
}

// newWriterMetrics creates and registers writer metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newWriterMetrics(registry *metric.MetricsRegistry) *writerMetrics {
	if registry == nil {
		return nil
	}

	m := &writerMetrics{
		flushedRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "persist",
			Name:      "flushed_rows_total",
			Help:      "Samples written to storage",
		}),

		flushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "persist",
			Name:      "flushes_total",
			Help:      "Non-empty flush cycles completed",
		}),

		skippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "persist",
			Name:      "skipped_total",
			Help:      "Malformed queue items skipped",
		}),

		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "persist",
			Name:      "errors_total",
			Help:      "Failed batch inserts",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.flushedRowsTotal,
		m.flushesTotal,
		m.skippedTotal,
		m.errorsTotal,
	)

	return m
}

func (m *writerMetrics) recordFlush(rows int) {
	if m == nil {
		return
	}
	m.flushedRowsTotal.Add(float64(rows))
	m.flushesTotal.Inc()
}

func (m *writerMetrics) recordSkipped() {
	if m == nil {
		return
	}
	m.skippedTotal.Inc()
}

func (m *writerMetrics) recordFlushError() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}
