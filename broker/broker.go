// Package broker layers the internal work queues and the broadcast channel
// over JetStream. Each queue is a work-queue stream drained through a
// durable pull consumer, so a popped item is delivered to exactly one
// worker and survives a process restart. The broadcast channel is plain
// NATS publish: a missed live event is gone, never replayed.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/longczx/home-guardian/errors"
	"github.com/longczx/home-guardian/metric"
	"github.com/longczx/home-guardian/natsclient"
	"github.com/longczx/home-guardian/types"
)

// Internal queue names. Each maps to one work-queue stream.
const (
	QueueIngest      = "ingest"
	QueueAlertStream = "alert_stream"
	QueueCommandSend = "command_send"
	QueueNotify      = "notify"
)

// BroadcastSubject is the core NATS subject live-connection events ride on
const BroadcastSubject = "home.internal.broadcast"

// popMaxWait bounds how long a pop blocks when the queue is empty. Drain
// loops poll on their own tickers, so an empty fetch must return fast.
const popMaxWait = 50 * time.Millisecond

// Broker owns the queue streams and their pull consumers.
type Broker struct {
	client    *natsclient.Client
	logger    *slog.Logger
	metrics   *brokerMetrics
	consumers map[string]jetstream.Consumer
}

// New creates a Broker on an already-connected client. Call EnsureQueues
// before the first Push or Pop.
func New(client *natsclient.Client, registry *metric.MetricsRegistry) *Broker {
	return &Broker{
		client:    client,
		logger:    slog.Default().With("component", "broker"),
		metrics:   newBrokerMetrics(registry),
		consumers: make(map[string]jetstream.Consumer),
	}
}

// streamName returns the JetStream stream backing a queue
func streamName(queue string) string {
	return "HG_" + queue
}

// queueSubject returns the subject items for a queue are published on
func queueSubject(queue string) string {
	return "hg.q." + queue
}

// EnsureQueues creates the work-queue streams and durable pull consumers
// for every internal queue. Idempotent across restarts and instances.
func (b *Broker) EnsureQueues(ctx context.Context) error {
	for _, queue := range []string{QueueIngest, QueueAlertStream, QueueCommandSend, QueueNotify} {
		_, err := b.client.CreateStream(ctx, jetstream.StreamConfig{
			Name:      streamName(queue),
			Subjects:  []string{queueSubject(queue)},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
			MaxAge:    24 * time.Hour,
		})
		if err != nil {
			return errors.Wrap(err, "Broker", "EnsureQueues", "create stream for "+queue)
		}

		consumer, err := b.client.PullConsumer(ctx, streamName(queue), jetstream.ConsumerConfig{
			Durable:       "hg_" + queue + "_worker",
			AckPolicy:     jetstream.AckExplicitPolicy,
			FilterSubject: queueSubject(queue),
			MaxDeliver:    3,
			AckWait:       30 * time.Second,
		})
		if err != nil {
			return errors.Wrap(err, "Broker", "EnsureQueues", "create consumer for "+queue)
		}

		b.consumers[queue] = consumer
	}

	b.logger.Info("queues ready", "count", len(b.consumers))
	return nil
}

// Push serializes v and appends it to a queue with at-least-once delivery.
func (b *Broker) Push(ctx context.Context, queue string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Broker", "Push", "marshal item for "+queue)
	}

	if err := b.client.PublishToStream(ctx, queueSubject(queue), data); err != nil {
		b.metrics.recordPushError(queue)
		return errors.Wrap(err, "Broker", "Push", "publish to "+queue)
	}

	b.metrics.recordPush(queue)
	return nil
}

// PopBatch removes and returns up to max items from a queue. An empty
// queue returns an empty slice, not an error.
func (b *Broker) PopBatch(ctx context.Context, queue string, max int) ([][]byte, error) {
	consumer, ok := b.consumers[queue]
	if !ok {
		return nil, errors.WrapInvalid(
			errors.New("unknown queue "+queue), "Broker", "PopBatch", "lookup consumer")
	}

	batch, err := consumer.Fetch(max, jetstream.FetchMaxWait(popMaxWait))
	if err != nil {
		b.metrics.recordPopError(queue)
		return nil, errors.WrapTransient(err, "Broker", "PopBatch", "fetch from "+queue)
	}

	var items [][]byte
	for msg := range batch.Messages() {
		items = append(items, msg.Data())
		if err := msg.Ack(); err != nil {
			b.logger.Warn("ack failed", "queue", queue, "error", err)
		}
	}
	if err := batch.Error(); err != nil {
		b.metrics.recordPopError(queue)
		return items, errors.WrapTransient(err, "Broker", "PopBatch", "drain fetch from "+queue)
	}

	b.metrics.recordPop(queue, len(items))
	return items, nil
}

// Pop removes and returns one item from a queue. The second return is
// false when the queue is empty.
func (b *Broker) Pop(ctx context.Context, queue string) ([]byte, bool, error) {
	items, err := b.PopBatch(ctx, queue, 1)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	return items[0], true, nil
}

// PublishEvent publishes a broadcast event for the live-connection
// fan-out. Delivery is fire-and-forget; a missed event is corrected by
// the next state change.
func (b *Broker) PublishEvent(ctx context.Context, event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "Broker", "PublishEvent", "marshal event")
	}

	if err := b.client.Publish(ctx, BroadcastSubject, data); err != nil {
		b.metrics.recordPushError("broadcast")
		return errors.Wrap(err, "Broker", "PublishEvent", "publish broadcast")
	}

	b.metrics.recordPush("broadcast")
	return nil
}

// SubscribeEvents delivers broadcast events to handler until ctx ends.
// Malformed payloads are logged and dropped.
func (b *Broker) SubscribeEvents(ctx context.Context, handler func(types.Event)) error {
	return b.client.Subscribe(ctx, BroadcastSubject, func(_ context.Context, _ string, data []byte) {
		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil {
			b.logger.Warn("dropping malformed broadcast event", "error", err)
			return
		}
		handler(event)
	})
}
