// Package ruleengine evaluates telemetry against alert rules and scene
// automations. Definitions are held in an immutable in-memory snapshot
// swapped atomically on reload, so the evaluation hot path never takes a
// lock or touches the database. Reloads are driven by a change flag in KV
// polled on a fixed interval.
package ruleengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/types"
)

// RuleStore loads definitions and records evaluation outcomes.
type RuleStore interface {
	EnabledAlertRules(ctx context.Context) ([]types.AlertRule, error)
	EnabledTelemetryAutomations(ctx context.Context) ([]types.AutomationRule, error)
	InsertAlertEvent(ctx context.Context, event types.AlertEvent) (int64, error)
	TouchAutomationTriggered(ctx context.Context, automationID int64, at time.Time) error
	DeviceByID(ctx context.Context, id int64) (types.Device, error)
}

// Queue is the internal queue and broadcast surface.
type Queue interface {
	Push(ctx context.Context, queue string, v any) error
	PopBatch(ctx context.Context, queue string, max int) ([][]byte, error)
	PublishEvent(ctx context.Context, event types.Event) error
}

// CommandSender dispatches automation device commands.
type CommandSender interface {
	Send(ctx context.Context, deviceID int64, payload map[string]any) (types.CommandRequest, error)
}

// ReloadSignal is the rules-changed flag shared with the management API.
type ReloadSignal interface {
	Changed(ctx context.Context) (bool, error)
	Ack(ctx context.Context) error
}

// snapshot is the immutable rule set the hot path evaluates against.
type snapshot struct {
	alertRules  []types.AlertRule
	automations []types.AutomationRule
	loadedAt    time.Time
}

// EngineDeps holds runtime dependencies for the rule engine.
type EngineDeps struct {
	Config   config.RulesConfig
	Store    RuleStore
	Queue    Queue
	Commands CommandSender
	Reload   ReloadSignal
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Engine is the rule evaluation component.
type Engine struct {
	cfg      config.RulesConfig
	store    RuleStore
	queue    Queue
	commands CommandSender
	reload   ReloadSignal
	logger   *slog.Logger
	metrics  *engineMetrics

	snap     atomic.Pointer[snapshot]
	debounce *debounceTracker

	// test hook
	now func() time.Time

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewEngine creates the rule engine.
func NewEngine(deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ruleengine")
	}

	e := &Engine{
		cfg:      deps.Config,
		store:    deps.Store,
		queue:    deps.Queue,
		commands: deps.Commands,
		reload:   deps.Reload,
		logger:   logger,
		metrics:  newEngineMetrics(deps.Registry),
		debounce: newDebounceTracker(deps.Config.DebounceGrace),
		now:      time.Now,
	}
	e.snap.Store(&snapshot{})
	return e
}

// Initialize validates dependencies and loads the first snapshot. A failed
// initial load is not fatal; the poll loop keeps retrying against the
// empty snapshot.
func (e *Engine) Initialize() error {
	if e.store == nil || e.queue == nil {
		return errors.WrapInvalid(errors.New("missing dependency"), "ruleengine", "Initialize", "dependency check")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.loadSnapshot(ctx); err != nil {
		e.logger.Warn("initial rule load failed, starting with empty snapshot", "error", err)
	}
	return nil
}

// Start begins the consume and poll loops. Idempotent while running.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}

	e.shutdown = make(chan struct{})
	e.done = make(chan struct{})

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.consumeLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	go func() {
		e.wg.Wait()
		close(e.done)
	}()

	snap := e.snap.Load()
	e.logger.Info("rule engine started",
		"alert_rules", len(snap.alertRules), "automations", len(snap.automations))
	return nil
}

// Stop halts both loops and waits up to timeout.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	close(e.shutdown)

	select {
	case <-e.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.New("evaluation loops did not stop"), "ruleengine", "Stop", "await shutdown")
	}
}

// loadSnapshot reads definitions and swaps the snapshot atomically.
func (e *Engine) loadSnapshot(ctx context.Context) error {
	alertRules, err := e.store.EnabledAlertRules(ctx)
	if err != nil {
		return errors.Wrap(err, "ruleengine", "loadSnapshot", "load alert rules")
	}

	automations, err := e.store.EnabledTelemetryAutomations(ctx)
	if err != nil {
		return errors.Wrap(err, "ruleengine", "loadSnapshot", "load automations")
	}

	e.snap.Store(&snapshot{
		alertRules:  alertRules,
		automations: automations,
		loadedAt:    e.now(),
	})
	e.metrics.recordSnapshot(len(alertRules), len(automations))
	return nil
}

// pollLoop checks the reload flag and sweeps stale debounce windows.
// A failed reload keeps the previous snapshot and leaves the flag set so
// the next tick retries.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
			e.debounce.sweep(e.now())
		}
	}
}

// pollOnce runs one reload check
func (e *Engine) pollOnce(ctx context.Context) {
	if e.reload == nil {
		return
	}

	changed, err := e.reload.Changed(ctx)
	if err != nil {
		e.logger.Warn("reload flag check failed", "error", err)
		return
	}
	if !changed {
		return
	}

	if err := e.loadSnapshot(ctx); err != nil {
		e.logger.Error("rule reload failed, keeping previous snapshot", "error", err)
		return
	}

	if err := e.reload.Ack(ctx); err != nil {
		e.logger.Warn("failed to clear reload flag", "error", err)
	}

	snap := e.snap.Load()
	e.logger.Info("rules reloaded",
		"alert_rules", len(snap.alertRules), "automations", len(snap.automations))
}

// consumeLoop drains the evaluation queue on a fixed cadence.
func (e *Engine) consumeLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ConsumeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.consumeOnce(ctx)
		}
	}
}

// consumeOnce pops one batch of samples and evaluates each. Malformed
// items are skipped.
func (e *Engine) consumeOnce(ctx context.Context) {
	items, err := e.queue.PopBatch(ctx, broker.QueueAlertStream, e.cfg.ConsumeBatch)
	if err != nil {
		e.logger.Warn("evaluation queue drain failed", "error", err)
		return
	}

	for _, item := range items {
		var sample types.TelemetrySample
		if err := json.Unmarshal(item, &sample); err != nil || !sample.Valid() {
			e.logger.Warn("skipping malformed queued sample", "error", err)
			continue
		}
		e.Evaluate(ctx, sample)
	}
}

// Evaluate runs one sample against the current snapshot.
func (e *Engine) Evaluate(ctx context.Context, sample types.TelemetrySample) {
	snap := e.snap.Load()
	now := e.now()

	for _, rule := range snap.alertRules {
		if !rule.Matches(sample.DeviceID, sample.MetricKey) {
			continue
		}
		e.evaluateAlertRule(ctx, rule, sample, now)
	}

	for _, automation := range snap.automations {
		if automation.Trigger.DeviceID != sample.DeviceID || automation.Trigger.MetricKey != sample.MetricKey {
			continue
		}
		e.evaluateAutomation(ctx, automation, sample, now)
	}
}

func (e *Engine) evaluateAlertRule(ctx context.Context, rule types.AlertRule, sample types.TelemetrySample, now time.Time) {
	satisfied := rule.Operator.Evaluate(sample.Value, rule.Threshold)
	e.metrics.recordEvaluation("alert", satisfied)

	key := alertKey(rule.ID)
	if !satisfied {
		e.debounce.reset(key)
		return
	}

	if !e.debounce.observe(key, rule.Duration(), now) {
		return
	}

	e.emitAlert(ctx, rule, sample, now)
}

// emitAlert persists, broadcasts and queues notification for a confirmed
// alert. Each step fails independently; a dead database never silences
// the live broadcast.
func (e *Engine) emitAlert(ctx context.Context, rule types.AlertRule, sample types.TelemetrySample, now time.Time) {
	event := types.AlertEvent{
		RuleID:         rule.ID,
		DeviceID:       sample.DeviceID,
		TriggeredAt:    now,
		TriggeredValue: sample.Value,
		Status:         types.AlertTriggered,
	}

	id, err := e.store.InsertAlertEvent(ctx, event)
	if err != nil {
		e.logger.Error("failed to persist alert event", "rule_id", rule.ID, "error", err)
	} else {
		event.ID = id
	}

	location := ""
	if device, err := e.store.DeviceByID(ctx, sample.DeviceID); err == nil {
		location = device.Location
	}

	if err := e.queue.PublishEvent(ctx, types.NewAlertEvent(event, rule, location)); err != nil {
		e.logger.Warn("failed to broadcast alert", "rule_id", rule.ID, "error", err)
	}

	if len(rule.ChannelIDs) > 0 {
		task := types.NotifyTask{
			ChannelIDs: rule.ChannelIDs,
			Title:      "Alert: " + rule.Name,
			Body:       fmt.Sprintf("%s reached %v", sample.MetricKey, sample.Value),
			Extra: map[string]any{
				"rule_id":   rule.ID,
				"device_id": sample.DeviceID,
			},
		}
		if err := e.queue.Push(ctx, broker.QueueNotify, task); err != nil {
			e.logger.Error("failed to queue alert notification", "rule_id", rule.ID, "error", err)
		}
	}

	e.metrics.recordTrigger("alert")
	e.logger.Info("alert triggered",
		"rule_id", rule.ID, "rule_name", rule.Name,
		"device_id", sample.DeviceID, "value", sample.Value)
}

func (e *Engine) evaluateAutomation(ctx context.Context, automation types.AutomationRule, sample types.TelemetrySample, now time.Time) {
	satisfied := automation.Trigger.Operator.Evaluate(sample.Value, automation.Trigger.Threshold)
	e.metrics.recordEvaluation("automation", satisfied)

	key := automationKey(automation.ID)
	if !satisfied {
		e.debounce.reset(key)
		return
	}

	if !e.debounce.observe(key, automation.Trigger.Duration(), now) {
		return
	}

	e.runAutomation(ctx, automation, sample, now)
}

// runAutomation executes actions in declaration order. A failed action is
// logged and the remaining actions still run.
func (e *Engine) runAutomation(ctx context.Context, automation types.AutomationRule, sample types.TelemetrySample, now time.Time) {
	for i, action := range automation.Actions {
		if err := e.runAction(ctx, automation, action, sample); err != nil {
			e.logger.Error("automation action failed",
				"automation_id", automation.ID, "action_index", i,
				"action_type", string(action.Kind), "error", err)
		}
	}

	if err := e.store.TouchAutomationTriggered(ctx, automation.ID, now); err != nil {
		e.logger.Warn("failed to record automation trigger time",
			"automation_id", automation.ID, "error", err)
	}

	e.metrics.recordTrigger("automation")
	e.logger.Info("automation triggered",
		"automation_id", automation.ID, "name", automation.Name,
		"device_id", sample.DeviceID, "actions", len(automation.Actions))
}

func (e *Engine) runAction(ctx context.Context, automation types.AutomationRule, action types.AutomationAction, sample types.TelemetrySample) error {
	switch action.Kind {
	case types.ActionDeviceCommand:
		if e.commands == nil {
			return errors.New("no command sender configured")
		}
		_, err := e.commands.Send(ctx, action.DeviceID, action.Payload)
		return err

	case types.ActionNotify:
		task := types.NotifyTask{
			ChannelIDs: action.ChannelIDs,
			Title:      "Automation: " + automation.Name,
			Body:       fmt.Sprintf("%s reached %v", sample.MetricKey, sample.Value),
			Extra: map[string]any{
				"automation_id": automation.ID,
				"device_id":     sample.DeviceID,
			},
		}
		return e.queue.Push(ctx, broker.QueueNotify, task)

	default:
		return errors.WrapInvalid(
			errors.New("unknown action kind "+string(action.Kind)),
			"ruleengine", "runAction", "dispatch action")
	}
}
