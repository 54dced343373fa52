package persist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longczx/home-guardian/broker"
	"github.com/longczx/home-guardian/config"
	"github.com/longczx/home-guardian/types"
)

type fakeStore struct {
	batches [][]types.TelemetrySample
	err     error
}

func (f *fakeStore) BulkInsertTelemetry(_ context.Context, samples []types.TelemetrySample) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, samples)
	return int64(len(samples)), nil
}

type fakeQueue struct {
	items [][]byte
}

func (f *fakeQueue) PopBatch(_ context.Context, queue string, max int) ([][]byte, error) {
	if queue != broker.QueueIngest {
		return nil, errors.New("unexpected queue " + queue)
	}
	n := min(max, len(f.items))
	batch := f.items[:n]
	f.items = f.items[n:]
	return batch, nil
}

func queuedSample(t *testing.T, deviceID int64, key string, value float64) []byte {
	t.Helper()
	data, err := json.Marshal(types.TelemetrySample{
		DeviceID:  deviceID,
		MetricKey: key,
		Value:     value,
		Timestamp: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return data
}

func testWriter(store *fakeStore, queue *fakeQueue) *Writer {
	return NewWriter(WriterDeps{
		Config: config.Default().Persist,
		Store:  store,
		Queue:  queue,
	})
}

func TestFlushOnceWritesBatch(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{items: [][]byte{
		queuedSample(t, 1, "temperature", 22.5),
		queuedSample(t, 1, "humidity", 40),
	}}

	w := testWriter(store, queue)
	require.NoError(t, w.Initialize())

	n := w.FlushOnce(context.Background())
	assert.Equal(t, 2, n)
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
}

func TestFlushOnceCapsAtBatchSize(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{}
	for i := 0; i < 1200; i++ {
		queue.items = append(queue.items, queuedSample(t, int64(i%10+1), "temperature", float64(i)))
	}

	w := testWriter(store, queue)

	// 1200 queued items drain as 500, 500, 200
	assert.Equal(t, 500, w.FlushOnce(context.Background()))
	assert.Equal(t, 500, w.FlushOnce(context.Background()))
	assert.Equal(t, 200, w.FlushOnce(context.Background()))
	assert.Equal(t, 0, w.FlushOnce(context.Background()))
	assert.Len(t, store.batches, 3)
}

func TestFlushOnceSkipsMalformed(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{items: [][]byte{
		queuedSample(t, 1, "temperature", 22.5),
		[]byte(`not json`),
		[]byte(`{"metric_key": "no_device", "value": 1}`),
	}}

	w := testWriter(store, queue)

	n := w.FlushOnce(context.Background())
	assert.Equal(t, 1, n)
	require.Len(t, store.batches, 1)
	assert.Equal(t, "temperature", store.batches[0][0].MetricKey)
}

func TestFlushOnceEmptyQueue(t *testing.T) {
	store := &fakeStore{}
	w := testWriter(store, &fakeQueue{})

	assert.Equal(t, 0, w.FlushOnce(context.Background()))
	assert.Empty(t, store.batches)
}

func TestFlushOnceInsertFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	queue := &fakeQueue{items: [][]byte{queuedSample(t, 1, "temperature", 22.5)}}

	w := testWriter(store, queue)

	// Failure is logged, not fatal, and the cycle reports zero rows
	assert.Equal(t, 0, w.FlushOnce(context.Background()))
}

func TestStopRunsFinalFlush(t *testing.T) {
	store := &fakeStore{}
	queue := &fakeQueue{items: [][]byte{queuedSample(t, 1, "temperature", 22.5)}}

	w := testWriter(store, queue)
	require.NoError(t, w.Initialize())
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(time.Second))

	require.Len(t, store.batches, 1)
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	w := NewWriter(WriterDeps{
		Config: config.PersistConfig{Interval: 0, BatchSize: 0},
		Store:  &fakeStore{},
		Queue:  &fakeQueue{},
	})
	assert.Error(t, w.Initialize())
}
