package distcache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultMemoryTTL applies when a write passes no ttl.
const DefaultMemoryTTL = 24 * time.Hour

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryBackend is an in-process Backend. Expired entries are dropped lazily.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock replaces time.Now, letting tests advance time.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// lookup must be called with mu held.
func (b *MemoryBackend) lookup(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return e, false
	}
	if !b.now().Before(e.expires) {
		delete(b.entries, key)
		return e, false
	}
	return e, true
}

func (b *MemoryBackend) store(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultMemoryTTL
	}
	b.entries[key] = memoryEntry{value: slices.Clone(value), expires: b.now().Add(ttl)}
}

// Get implements Backend.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

// Put implements Backend.
func (b *MemoryBackend) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store(key, value, ttl)
	return nil
}

// Create implements Backend.
func (b *MemoryBackend) Create(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.lookup(key); ok {
		return ErrExists
	}
	b.store(key, value, ttl)
	return nil
}

// Update implements Backend. fn runs under the backend lock and must not call
// back into b.
func (b *MemoryBackend) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var current []byte
	if e, ok := b.lookup(key); ok {
		current = slices.Clone(e.value)
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	b.store(key, next, ttl)
	return nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

// Keys implements Backend. The result is sorted.
func (b *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k := range b.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := b.lookup(k); ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Ping implements Backend.
func (b *MemoryBackend) Ping(context.Context) error { return nil }

// Len returns the number of live entries.
func (b *MemoryBackend) Len() int {
	keys, _ := b.Keys(context.Background(), "")
	return len(keys)
}
