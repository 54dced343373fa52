package postgres

import (
	"context"
	"encoding/json"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

// InsertAlertEvent persists a confirmed alert and returns its assigned id.
func (s *Store) InsertAlertEvent(ctx context.Context, event types.AlertEvent) (int64, error) {
	value, err := json.Marshal(event.TriggeredValue)
	if err != nil {
		return 0, errors.WrapInvalid(err, "Store", "InsertAlertEvent", "encode value")
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO alert_events (rule_id, device_id, triggered_at, triggered_value, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		event.RuleID, event.DeviceID, event.TriggeredAt, value, string(types.AlertTriggered),
	).Scan(&id)
	if err != nil {
		s.metrics.recordError("insert_alert_event")
		return 0, errors.WrapTransient(err, "Store", "InsertAlertEvent", "insert event")
	}
	return id, nil
}
