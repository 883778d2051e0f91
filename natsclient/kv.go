package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Rensir56/SegTool-for-Jade/pkg/retry"
)

// Well-known KV errors.
var (
	ErrKVKeyNotFound        = errors.New("kv: key not found")
	ErrKVKeyExists          = errors.New("kv: key already exists")
	ErrKVRevisionMismatch   = errors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = errors.New("kv: max retries exceeded")
)

// KVEntry is a value with its revision for CAS operations.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KVStore behavior.
type KVOptions struct {
	MaxRetries    int           // CAS retry attempts after the first
	RetryDelay    time.Duration // initial delay between CAS attempts
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per-operation timeout
	MaxValueSize  int           // 0 disables the check
}

// DefaultKVOptions returns defaults suited to a cache bucket.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    5,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 500 * time.Millisecond,
		Timeout:       5 * time.Second,
		MaxValueSize:  1024 * 1024,
	}
}

// KVStore wraps a bucket with timeouts, typed errors and CAS helpers.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket using the client logger.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	return NewKVStore(bucket, c.logger, opts...)
}

// NewKVStore wraps bucket.
func NewKVStore(bucket jetstream.KeyValue, logger *slog.Logger, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{bucket: bucket, options: options, logger: logger}
}

// Bucket returns the bucket name.
func (kv *KVStore) Bucket() string { return kv.bucket.Bucket() }

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

func (kv *KVStore) checkSize(key string, value []byte) error {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return fmt.Errorf("kv %s: value size %d exceeds maximum %d", key, len(value), kv.options.MaxValueSize)
	}
	return nil
}

// Get returns the current value and revision of key.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key without a revision check and without a per-key TTL.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("kv put %s: %w", key, err)
	}
	return rev, nil
}

// Create writes key only if it does not exist. A positive ttl expires the
// key server-side; the bucket must have a limit marker TTL configured.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	var opts []jetstream.KVCreateOpt
	if ttl > 0 {
		opts = append(opts, jetstream.KeyTTL(ttl))
	}
	rev, err := kv.bucket.Create(ctx, key, value, opts...)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVKeyExists
		}
		return 0, fmt.Errorf("kv create %s: %w", key, err)
	}
	return rev, nil
}

// PutTTL replaces key with value expiring after ttl. The key is purged and
// re-created; a concurrent writer makes the loop retry so the last writer wins.
func (kv *KVStore) PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	var rev uint64
	err := retry.Do(ctx, kv.retryConfig(), func() error {
		r, err := kv.Create(ctx, key, value, ttl)
		if err == nil {
			rev = r
			return nil
		}
		if !errors.Is(err, ErrKVKeyExists) {
			return retry.NonRetryable(err)
		}
		if err := kv.Purge(ctx, key); err != nil && !errors.Is(err, ErrKVKeyNotFound) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil && errors.Is(err, ErrKVKeyExists) {
		return 0, ErrKVMaxRetriesExceeded
	}
	return rev, err
}

// Update performs a CAS write against revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv update %s: %w", key, err)
	}
	return rev, nil
}

// ReplaceTTL rewrites key at revision with value expiring after ttl. The
// revision-checked purge keeps the CAS guarantee; the following create
// carries the TTL that a plain update cannot.
func (kv *KVStore) ReplaceTTL(ctx context.Context, key string, value []byte, revision uint64, ttl time.Duration) (uint64, error) {
	if err := kv.checkSize(key, value); err != nil {
		return 0, err
	}
	purgeCtx, cancel := kv.applyTimeout(ctx)
	err := kv.bucket.Purge(purgeCtx, key, jetstream.LastRevision(revision))
	cancel()
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, fmt.Errorf("kv purge %s: %w", key, err)
	}
	rev, err := kv.Create(ctx, key, value, ttl)
	if errors.Is(err, ErrKVKeyExists) {
		return 0, ErrKVRevisionMismatch
	}
	return rev, err
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// UpdateWithRetry applies updateFn to the current value (nil when absent)
// and writes the result with CAS, retrying on conflicts. A positive ttl
// restarts the key's expiry on every write.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, ttl time.Duration,
	updateFn func(current []byte) ([]byte, error)) error {

	cfg := kv.retryConfig()
	attempt := 0

	err := retry.Do(ctx, cfg, func() error {
		attempt++

		var current []byte
		var revision uint64
		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case errors.Is(err, ErrKVKeyNotFound):
		default:
			return fmt.Errorf("kv get failed during update: %w", err)
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("update function error: %w", err))
		}
		if err := kv.checkSize(key, next); err != nil {
			return retry.NonRetryable(err)
		}

		switch {
		case revision == 0:
			_, err = kv.Create(ctx, key, next, ttl)
		case ttl > 0:
			_, err = kv.ReplaceTTL(ctx, key, next, revision, ttl)
		default:
			_, err = kv.Update(ctx, key, next, revision)
		}
		if err != nil && IsKVConflictError(err) {
			kv.logger.Debug("KV CAS conflict, retrying", "key", key, "attempt", attempt, "max", cfg.MaxAttempts)
		}
		return err
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// Delete places a delete marker on key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Purge removes key and its history.
func (kv *KVStore) Purge(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Purge(ctx, key); err != nil {
		if IsKVNotFoundError(err) {
			return ErrKVKeyNotFound
		}
		return fmt.Errorf("kv purge %s: %w", key, err)
	}
	return nil
}

// Keys lists live keys matching the subject filters (all keys when none).
func (kv *KVStore) Keys(ctx context.Context, filters ...string) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	var (
		lister jetstream.KeyLister
		err    error
	)
	if len(filters) == 0 {
		lister, err = kv.bucket.ListKeys(ctx)
	} else {
		lister, err = kv.bucket.ListKeysFiltered(ctx, filters...)
	}
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for k := range lister.Keys() {
		keys = append(keys, k)
	}
	return keys, nil
}

// Status returns bucket information, which doubles as a reachability probe.
func (kv *KVStore) Status(ctx context.Context) (jetstream.KeyValueStatus, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()
	return kv.bucket.Status(ctx)
}

// IsKVNotFoundError reports whether err means the key does not exist.
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVKeyNotFound) || errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflictError reports whether err is an existing key or a stale revision.
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrKVRevisionMismatch) || errors.Is(err, ErrKVKeyExists) || errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
