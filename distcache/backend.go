package distcache

import (
	"context"
	"errors"
	"time"
)

// Backend errors.
var (
	ErrNotFound   = errors.New("distcache: key not found")
	ErrExists     = errors.New("distcache: key already exists")
	ErrInvalidKey = errors.New("distcache: invalid key")
)

// UpdateFunc computes the next value from the current one, which is nil when
// the key is absent.
type UpdateFunc func(current []byte) ([]byte, error)

// Backend is a flat key-value store with per-key expiry. Keys use ':' as the
// segment separator. A ttl of zero means the backend default.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Create writes key only if it is absent, returning ErrExists otherwise.
	Create(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Update applies fn atomically with respect to other writers of key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists live keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
}
