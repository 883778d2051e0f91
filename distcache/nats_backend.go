package distcache

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/natsclient"
)

// NATSBackend stores entries in a JetStream key-value bucket. Per-key TTLs
// need nats-server 2.11 and a bucket created with a limit marker TTL; writes
// without a ttl fall back to the bucket's MaxAge.
type NATSBackend struct {
	kv *natsclient.KVStore
}

// NewNATSBackend wraps kv.
func NewNATSBackend(kv *natsclient.KVStore) *NATSBackend {
	return &NATSBackend{kv: kv}
}

// Get implements Backend.
func (b *NATSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := natsKey(key)
	if err != nil {
		return nil, err
	}
	entry, err := b.kv.Get(ctx, k)
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.WrapTransient(err, "NATSBackend", "Get", "read "+key)
	}
	return entry.Value, nil
}

// Put implements Backend.
func (b *NATSBackend) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := natsKey(key)
	if err != nil {
		return err
	}
	if ttl > 0 {
		_, err = b.kv.PutTTL(ctx, k, value, ttl)
	} else {
		_, err = b.kv.Put(ctx, k, value)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSBackend", "Put", "write "+key)
	}
	return nil
}

// Create implements Backend.
func (b *NATSBackend) Create(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := natsKey(key)
	if err != nil {
		return err
	}
	if _, err := b.kv.Create(ctx, k, value, ttl); err != nil {
		if stderrors.Is(err, natsclient.ErrKVKeyExists) {
			return ErrExists
		}
		return errors.WrapTransient(err, "NATSBackend", "Create", "create "+key)
	}
	return nil
}

// Update implements Backend with a compare-and-swap loop. Every successful
// write restarts the key's ttl.
func (b *NATSBackend) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	k, err := natsKey(key)
	if err != nil {
		return err
	}
	if err := b.kv.UpdateWithRetry(ctx, k, ttl, fn); err != nil {
		if stderrors.Is(err, natsclient.ErrKVMaxRetriesExceeded) {
			return errors.WrapTransient(err, "NATSBackend", "Update", "update "+key)
		}
		return err
	}
	return nil
}

// Delete implements Backend.
func (b *NATSBackend) Delete(ctx context.Context, key string) error {
	k, err := natsKey(key)
	if err != nil {
		return err
	}
	if err := b.kv.Delete(ctx, k); err != nil && !stderrors.Is(err, natsclient.ErrKVKeyNotFound) {
		return errors.WrapTransient(err, "NATSBackend", "Delete", "delete "+key)
	}
	return nil
}

// Keys implements Backend. Listing is filtered server-side on the longest
// complete segment prefix.
func (b *NATSBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var filters []string
	if i := strings.LastIndexByte(prefix, ':'); i > 0 {
		parent, err := natsKey(prefix[:i])
		if err != nil {
			return nil, err
		}
		filters = append(filters, parent+".>")
	}

	raw, err := b.kv.Keys(ctx, filters...)
	if err != nil {
		return nil, errors.WrapTransient(err, "NATSBackend", "Keys", "list keys")
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		key, err := logicalKey(k)
		if err != nil || !strings.HasPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Ping implements Backend.
func (b *NATSBackend) Ping(ctx context.Context) error {
	if _, err := b.kv.Status(ctx); err != nil {
		return errors.WrapTransient(err, "NATSBackend", "Ping", "bucket status")
	}
	return nil
}
