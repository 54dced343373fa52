package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/types"
)

type fakeQueue struct {
	items [][]byte
	err   error
}

func (f *fakeQueue) PopBatch(_ context.Context, queue string, max int) ([][]byte, error) {
	if queue != broker.QueueNotify {
		return nil, errors.New("unexpected queue " + queue)
	}
	if f.err != nil {
		return nil, f.err
	}
	n := min(max, len(f.items))
	batch := f.items[:n]
	f.items = f.items[n:]
	return batch, nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	tasks []types.NotifyTask
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, task types.NotifyTask) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func queuedTask(t *testing.T, title string, channels ...int64) []byte {
	t.Helper()
	data, err := json.Marshal(types.NotifyTask{
		ChannelIDs: channels,
		Title:      title,
		Body:       "threshold crossed",
	})
	require.NoError(t, err)
	return data
}

func testConsumer(queue *fakeQueue, deliverer *fakeDeliverer) *Consumer {
	cfg := config.Default().Notify
	cfg.RatePerSecond = 1000
	cfg.Burst = 100
	return NewConsumer(ConsumerDeps{
		Config:    cfg,
		Queue:     queue,
		Deliverer: deliverer,
	})
}

func TestDrainOnceDeliversTasks(t *testing.T) {
	queue := &fakeQueue{items: [][]byte{
		queuedTask(t, "High temperature", 1, 2),
		queuedTask(t, "Door open", 3),
	}}
	deliverer := &fakeDeliverer{}

	c := testConsumer(queue, deliverer)
	require.NoError(t, c.Initialize())

	n := c.DrainOnce(context.Background())
	assert.Equal(t, 2, n)
	require.Len(t, deliverer.tasks, 2)
	assert.Equal(t, "High temperature", deliverer.tasks[0].Title)
	assert.Equal(t, []int64{1, 2}, deliverer.tasks[0].ChannelIDs)
}

func TestDrainOnceSkipsMalformedTasks(t *testing.T) {
	queue := &fakeQueue{items: [][]byte{
		[]byte("not json"),
		queuedTask(t, ""), // missing title
		queuedTask(t, "ok", 1),
	}}
	deliverer := &fakeDeliverer{}

	c := testConsumer(queue, deliverer)
	n := c.DrainOnce(context.Background())

	assert.Equal(t, 1, n)
	require.Len(t, deliverer.tasks, 1)
	assert.Equal(t, "ok", deliverer.tasks[0].Title)
}

func TestDrainOnceRespectsBatchLimit(t *testing.T) {
	queue := &fakeQueue{}
	for i := 0; i < 25; i++ {
		queue.items = append(queue.items, queuedTask(t, "task", 1))
	}
	deliverer := &fakeDeliverer{}

	c := testConsumer(queue, deliverer)
	assert.Equal(t, 10, c.DrainOnce(context.Background()))
	assert.Equal(t, 10, c.DrainOnce(context.Background()))
	assert.Equal(t, 5, c.DrainOnce(context.Background()))
	assert.Equal(t, 0, c.DrainOnce(context.Background()))
}

func TestDeliveryFailureDropsTask(t *testing.T) {
	queue := &fakeQueue{items: [][]byte{queuedTask(t, "task", 1)}}
	deliverer := &fakeDeliverer{err: errors.New("smtp down")}

	c := testConsumer(queue, deliverer)
	assert.Equal(t, 0, c.DrainOnce(context.Background()))
	assert.Empty(t, queue.items, "failed task is not requeued")
}

func TestDrainOnceQueueError(t *testing.T) {
	queue := &fakeQueue{err: errors.New("broker down")}
	c := testConsumer(queue, &fakeDeliverer{})
	assert.Equal(t, 0, c.DrainOnce(context.Background()))
}

func TestStartStop(t *testing.T) {
	queue := &fakeQueue{items: [][]byte{queuedTask(t, "task", 1)}}
	deliverer := &fakeDeliverer{}

	cfg := config.Default().Notify
	cfg.DrainInterval = 10 * time.Millisecond
	cfg.RatePerSecond = 1000
	cfg.Burst = 100
	c := NewConsumer(ConsumerDeps{Config: cfg, Queue: queue, Deliverer: deliverer})

	require.NoError(t, c.Initialize())
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return deliverer.count() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(time.Second))
	require.NoError(t, c.Stop(time.Second))
}

func TestInitializeValidation(t *testing.T) {
	c := testConsumer(&fakeQueue{}, &fakeDeliverer{})
	require.NoError(t, c.Initialize())

	missing := NewConsumer(ConsumerDeps{Config: config.Default().Notify})
	assert.Error(t, missing.Initialize())

	bad := config.Default().Notify
	bad.DrainBatch = 0
	assert.Error(t, NewConsumer(ConsumerDeps{Config: bad, Queue: &fakeQueue{}, Deliverer: &fakeDeliverer{}}).Initialize())
}
