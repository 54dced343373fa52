package postgres

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/longczx/home-guardian/metric"
)

// storeMetrics holds Prometheus metrics for database traffic
type storeMetrics struct {
	batchRowsTotal prometheus.Counter
	batchSize      prometheus.Histogram
	errorsTotal    *prometheus.CounterVec
}

// newStoreMetrics creates and registers store metrics. Returns nil if no
// registry is provided; recording methods are nil-safe.
func newStoreMetrics(registry *metric.MetricsRegistry) *storeMetrics {
	if registry == nil {
		return nil
	}

	m := &storeMetrics{
		batchRowsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "postgres",
			Name:      "telemetry_rows_total",
			Help:      "Telemetry rows written through the batch path",
		}),

		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "postgres",
			Name:      "telemetry_batch_size",
			Help:      "Rows per telemetry batch insert",
			Buckets:   []float64{1, 10, 50, 100, 250, 500},
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "postgres",
			Name:      "errors_total",
			Help:      "Database operation failures",
		}, []string{"operation"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.batchRowsTotal,
		m.batchSize,
		m.errorsTotal,
	)

	return m
}

func (m *storeMetrics) recordBatchInsert(n int) {
	if m == nil {
		return
	}
	m.batchRowsTotal.Add(float64(n))
	m.batchSize.Observe(float64(n))
}

func (m *storeMetrics) recordError(operation string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation).Inc()
}
