package natsclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/longczx/home-guardian/pkg/retry"
)

// ErrKVKeyNotFound is returned when a key does not exist in the bucket
var ErrKVKeyNotFound = stderrors.New("kv key not found")

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operation behavior
type KVOptions struct {
	MaxRetries int           // CAS retry attempts
	RetryDelay time.Duration // initial delay between CAS retries
	Timeout    time.Duration // per-operation timeout
}

// DefaultKVOptions returns defaults suited to low-contention flag and
// cache buckets.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries: 5,
		RetryDelay: 10 * time.Millisecond,
		Timeout:    5 * time.Second,
	}
}

// KVStore provides typed access to one KV bucket: JSON values for the
// latest-reading cache, raw flags for reload signaling.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps a bucket obtained from CreateKeyValueBucket
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger,
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}

	return &KVEntry{
		Key:      key,
		Value:    entry.Value(),
		Revision: entry.Revision(),
	}, nil
}

// Put creates or updates a key, last writer wins
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// PutJSON marshals and stores a value
func (kv *KVStore) PutJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv marshal %s: %w", key, err)
	}
	_, err = kv.Put(ctx, key, data)
	return err
}

// GetJSON retrieves and unmarshals a value into out
func (kv *KVStore) GetJSON(ctx context.Context, key string, out any) error {
	entry, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(entry.Value, out); err != nil {
		return fmt.Errorf("kv unmarshal %s: %w", key, err)
	}
	return nil
}

// Update applies fn to the current value and writes the result with a
// revision check, retrying on CAS conflicts. A nil entry means the key does
// not exist yet; fn returning nil bytes skips the write.
func (kv *KVStore) Update(ctx context.Context, key string, fn func(current *KVEntry) ([]byte, error)) error {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}

	return retry.Do(ctx, cfg, func() error {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()

		current, err := kv.Get(opCtx, key)
		if err != nil && !stderrors.Is(err, ErrKVKeyNotFound) {
			return err
		}

		next, err := fn(current)
		if err != nil {
			return retry.NonRetryable(err)
		}
		if next == nil {
			return nil
		}

		if current == nil {
			_, err = kv.bucket.Create(opCtx, key, next)
		} else {
			_, err = kv.bucket.Update(opCtx, key, next, current.Revision)
		}
		if err != nil {
			return fmt.Errorf("kv update %s: %w", key, err)
		}
		return nil
	})
}
