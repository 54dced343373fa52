package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/types"
)

// EnabledAlertRules loads every enabled alert rule for the evaluation
// snapshot.
func (s *Store) EnabledAlertRules(ctx context.Context) ([]types.AlertRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, device_id, telemetry_key, condition, threshold_value,
		        trigger_duration_sec, is_enabled, notification_channel_ids
		   FROM alert_rules WHERE is_enabled`)
	if err != nil {
		s.metrics.recordError("enabled_alert_rules")
		return nil, errors.WrapTransient(err, "Store", "EnabledAlertRules", "query rules")
	}
	defer rows.Close()

	var result []types.AlertRule
	for rows.Next() {
		var (
			r         types.AlertRule
			threshold []byte
			channels  []byte
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.DeviceID, &r.MetricKey, &r.Operator,
			&threshold, &r.DurationSec, &r.Enabled, &channels); err != nil {
			s.metrics.recordError("enabled_alert_rules")
			return nil, errors.WrapTransient(err, "Store", "EnabledAlertRules", "scan rule")
		}
		if err := json.Unmarshal(threshold, &r.Threshold); err != nil {
			s.logger.Warn("skipping rule with malformed threshold", "rule_id", r.ID, "error", err)
			continue
		}
		if len(channels) > 0 {
			if err := json.Unmarshal(channels, &r.ChannelIDs); err != nil {
				s.logger.Warn("rule has malformed channel list", "rule_id", r.ID, "error", err)
				r.ChannelIDs = nil
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "EnabledAlertRules", "iterate rules")
	}
	return result, nil
}

// EnabledTelemetryAutomations loads enabled automations with a telemetry
// trigger. Schedule-triggered automations are filtered out at the query.
func (s *Store) EnabledTelemetryAutomations(ctx context.Context) ([]types.AutomationRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, trigger_type, trigger_config, actions,
		        is_enabled, last_triggered_at
		   FROM automations WHERE is_enabled AND trigger_type = $1`,
		string(types.TriggerTelemetry))
	if err != nil {
		s.metrics.recordError("enabled_automations")
		return nil, errors.WrapTransient(err, "Store", "EnabledTelemetryAutomations", "query automations")
	}
	defer rows.Close()

	var result []types.AutomationRule
	for rows.Next() {
		var (
			a       types.AutomationRule
			trigger []byte
			actions []byte
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.TriggerKind,
			&trigger, &actions, &a.Enabled, &a.LastTriggeredAt); err != nil {
			s.metrics.recordError("enabled_automations")
			return nil, errors.WrapTransient(err, "Store", "EnabledTelemetryAutomations", "scan automation")
		}
		if err := json.Unmarshal(trigger, &a.Trigger); err != nil {
			s.logger.Warn("skipping automation with malformed trigger", "automation_id", a.ID, "error", err)
			continue
		}
		if err := json.Unmarshal(actions, &a.Actions); err != nil {
			s.logger.Warn("skipping automation with malformed actions", "automation_id", a.ID, "error", err)
			continue
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Store", "EnabledTelemetryAutomations", "iterate automations")
	}
	return result, nil
}

// TouchAutomationTriggered records when an automation last fired
func (s *Store) TouchAutomationTriggered(ctx context.Context, automationID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automations SET last_triggered_at = $2 WHERE id = $1`,
		automationID, at)
	if err != nil {
		s.metrics.recordError("touch_automation")
		return errors.WrapTransient(err, "Store", "TouchAutomationTriggered", "update automation")
	}
	return nil
}
