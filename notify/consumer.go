// Package notify implements the notification queue consumer. Alert and
// automation paths enqueue delivery tasks; this component drains them on
// a short interval and hands each task to an injected Deliverer. Delivery
// is fire and forget: a failed task is logged and dropped, never requeued.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/types"
)

// Deliverer sends one notification task to its channels.
type Deliverer interface {
	Deliver(ctx context.Context, task types.NotifyTask) error
}

// Queue is the source of queued notification tasks.
type Queue interface {
	PopBatch(ctx context.Context, queue string, max int) ([][]byte, error)
}

// ConsumerDeps holds runtime dependencies for the notification consumer.
type ConsumerDeps struct {
	Config    config.NotifyConfig
	Queue     Queue
	Deliverer Deliverer
	Registry  *metric.MetricsRegistry
	Logger    *slog.Logger
}

// Consumer is the notification queue consumer component.
type Consumer struct {
	cfg       config.NotifyConfig
	queue     Queue
	deliverer Deliverer
	limiter   *rate.Limiter
	logger    *slog.Logger
	metrics   *consumerMetrics

	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewConsumer creates the notification consumer.
func NewConsumer(deps ConsumerDeps) *Consumer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "notify")
	}

	return &Consumer{
		cfg:       deps.Config,
		queue:     deps.Queue,
		deliverer: deps.Deliverer,
		limiter:   rate.NewLimiter(rate.Limit(deps.Config.RatePerSecond), deps.Config.Burst),
		logger:    logger,
		metrics:   newConsumerMetrics(deps.Registry),
	}
}

// Initialize validates dependencies before Start.
func (c *Consumer) Initialize() error {
	if c.queue == nil || c.deliverer == nil {
		return errors.WrapInvalid(errors.New("missing dependency"), "notify", "Initialize", "dependency check")
	}
	if c.cfg.DrainInterval <= 0 || c.cfg.DrainBatch < 1 || c.cfg.RatePerSecond <= 0 || c.cfg.Burst < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "notify", "Initialize", "config check")
	}
	return nil
}

// Start begins the drain loop. Idempotent while running.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}

	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		c.drainLoop(ctx)
	}()

	c.logger.Info("notification consumer started",
		"interval", c.cfg.DrainInterval, "batch", c.cfg.DrainBatch,
		"rate_per_second", c.cfg.RatePerSecond)
	return nil
}

// Stop halts the drain loop. Tasks still queued stay queued.
func (c *Consumer) Stop(timeout time.Duration) error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	close(c.shutdown)

	select {
	case <-c.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.New("drain loop did not stop"), "notify", "Stop", "await shutdown")
	}
}

func (c *Consumer) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.DrainOnce(ctx)
		}
	}
}

// DrainOnce pops up to one batch of tasks and delivers each, pacing the
// deliverer through the rate limiter. Returns the delivered count.
func (c *Consumer) DrainOnce(ctx context.Context) int {
	items, err := c.queue.PopBatch(ctx, broker.QueueNotify, c.cfg.DrainBatch)
	if err != nil {
		c.logger.Warn("notify queue drain failed", "error", err)
		return 0
	}

	delivered := 0
	for _, item := range items {
		var task types.NotifyTask
		if err := json.Unmarshal(item, &task); err != nil || !task.Valid() {
			c.metrics.recordSkipped()
			c.logger.Warn("skipping malformed notification task", "error", err)
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return delivered
		}

		if err := c.deliverer.Deliver(ctx, task); err != nil {
			c.metrics.recordFailed()
			c.logger.Error("notification delivery failed",
				"title", task.Title, "channels", len(task.ChannelIDs), "error", err)
			continue
		}

		c.metrics.recordDelivered(len(task.ChannelIDs))
		delivered++
	}
	return delivered
}

// LogDeliverer is the fallback Deliverer used when no real notification
// transport is wired. It records the task and succeeds.
type LogDeliverer struct {
	Logger *slog.Logger
}

// Deliver logs the task.
func (d LogDeliverer) Deliver(_ context.Context, task types.NotifyTask) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"title", task.Title, "body", task.Body, "channels", task.ChannelIDs)
	return nil
}
