package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

var telemetryColumns = []string{"device_id", "metric_key", "value", "created_at"}

// BulkInsertTelemetry writes a batch of samples into telemetry_logs through
// the COPY protocol. Values are stored as JSONB so non-numeric readings
// survive verbatim. Returns the number of rows written.
func (s *Store) BulkInsertTelemetry(ctx context.Context, samples []types.TelemetrySample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	rows, err := telemetryRows(samples)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Store", "BulkInsertTelemetry", "encode values")
	}

	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"telemetry_logs"},
		telemetryColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		s.metrics.recordError("bulk_insert_telemetry")
		return 0, errors.WrapTransient(err, "Store", "BulkInsertTelemetry", "copy rows")
	}

	s.metrics.recordBatchInsert(int(n))
	return n, nil
}

// telemetryRows converts samples to CopyFrom row tuples
func telemetryRows(samples []types.TelemetrySample) ([][]any, error) {
	rows := make([][]any, 0, len(samples))
	for _, sample := range samples {
		value, err := json.Marshal(sample.Value)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{sample.DeviceID, sample.MetricKey, value, sample.Timestamp})
	}
	return rows, nil
}
