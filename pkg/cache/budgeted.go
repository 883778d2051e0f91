package cache

import (
	"container/list"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// budgetEntry represents an entry in the budgeted cache.
type budgetEntry[V any] struct {
	key          string
	value        V
	size         int64
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	metadata     map[string]string
}

type evicted[V any] struct {
	key   string
	value V
}

// Budgeted is an LRU cache bounded by entry count and by the summed size of
// its values. One mutex guards the map, the recency list and the byte total.
type Budgeted[V any] struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	bytes      int64
	items      map[string]*list.Element // key -> list element
	order      *list.List               // front is most recently used
	sizeOf     SizeFunc[V]

	stats   *Statistics   // always initialized
	metrics *cacheMetrics // optional
	evictFn EvictCallback[V]
	logger  *slog.Logger
	now     func() time.Time
}

// NewBudgeted creates a cache holding at most maxEntries values whose sizes
// sum to at most maxBytes.
func NewBudgeted[V any](maxEntries int, maxBytes int64, sizeOf SizeFunc[V], options ...Option[V]) (*Budgeted[V], error) {
	if maxEntries <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewBudgeted",
			fmt.Sprintf("max entries must be positive, got %d", maxEntries))
	}
	if maxBytes <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewBudgeted",
			fmt.Sprintf("max bytes must be positive, got %d", maxBytes))
	}
	if sizeOf == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "NewBudgeted", "size function is required")
	}

	opts := applyOptions(options...)
	var metrics *cacheMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewBudgeted", "metrics registration")
		}
	}

	return &Budgeted[V]{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		sizeOf:     sizeOf,
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.evictCallback,
		logger:     opts.logger.With("component", "embedding_cache"),
		now:        opts.now,
	}, nil
}

// Get returns the value for key, promoting it to most recently used.
func (c *Budgeted[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.misses.Inc()
		}
		return zero, false
	}

	entry := element.Value.(*budgetEntry[V])
	entry.lastAccessed = c.now()
	entry.accessCount++
	c.order.MoveToFront(element)

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
	return entry.value, true
}

// Put stores value under key, replacing any previous value. Least recently
// used entries are evicted until the new value fits. A value larger than the
// whole budget is rejected with ErrTooLarge and nothing is evicted.
func (c *Budgeted[V]) Put(key string, value V, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	size := c.sizeOf(value)
	if size < 0 {
		size = 0
	}

	c.mu.Lock()
	if size > c.maxBytes {
		c.stats.Reject()
		if c.metrics != nil {
			c.metrics.rejected.Inc()
		}
		c.mu.Unlock()
		c.logger.Warn("Value exceeds embedding cache budget, not cached",
			"key", key, "size_mb", mb(size), "max_mb", mb(c.maxBytes))
		return fmt.Errorf("%w: %d bytes, budget %d", ErrTooLarge, size, c.maxBytes)
	}

	if element, exists := c.items[key]; exists {
		c.removeElementUnsafe(element)
	}

	var out []evicted[V]
	for len(c.items) >= c.maxEntries || c.bytes+size > c.maxBytes {
		element := c.order.Back()
		if element == nil {
			break
		}
		entry := element.Value.(*budgetEntry[V])
		c.removeElementUnsafe(element)
		out = append(out, evicted[V]{key: entry.key, value: entry.value})
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.evictions.Inc()
		}
	}

	now := c.now()
	entry := &budgetEntry[V]{
		key:          key,
		value:        value,
		size:         size,
		createdAt:    now,
		lastAccessed: now,
		metadata:     maps.Clone(metadata),
	}
	c.items[key] = c.order.PushFront(entry)
	c.bytes += size

	c.stats.Set()
	if c.metrics != nil {
		c.metrics.sets.Inc()
	}
	c.updateSizeUnsafe()
	c.mu.Unlock()

	for _, e := range out {
		c.logger.Debug("Evicted embedding", "key", e.key)
		if c.evictFn != nil {
			c.evictFn(e.key, e.value)
		}
	}
	return nil
}

// Remove deletes key and reports whether it was present.
func (c *Budgeted[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeElementUnsafe(element)
	c.stats.Delete()
	if c.metrics != nil {
		c.metrics.deletes.Inc()
	}
	c.updateSizeUnsafe()
	return true
}

// Clear removes all entries.
func (c *Budgeted[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.bytes = 0
	c.updateSizeUnsafe()
}

// Keys returns all keys, most recently used first.
func (c *Budgeted[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*budgetEntry[V]).key)
	}
	return keys
}

// Info returns the metadata of key without touching its recency.
func (c *Budgeted[V]) Info(key string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return EntryInfo{}, false
	}
	entry := element.Value.(*budgetEntry[V])
	return EntryInfo{
		Key:          entry.key,
		CreatedAt:    entry.createdAt,
		LastAccessed: entry.lastAccessed,
		AccessCount:  entry.accessCount,
		SizeBytes:    entry.size,
		Metadata:     maps.Clone(entry.metadata),
	}, true
}

// Len returns the number of entries.
func (c *Budgeted[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Bytes returns the summed size of all entries.
func (c *Budgeted[V]) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Stats returns a snapshot of cache statistics and limits.
func (c *Budgeted[V]) Stats() StatsSummary {
	s := c.stats.Summary()
	s.MaxEntries = c.maxEntries
	s.MaxMemoryMB = mb(c.maxBytes)
	return s
}

// removeElementUnsafe removes an element from the list, the map and the byte
// total. Must be called with mutex held.
func (c *Budgeted[V]) removeElementUnsafe(element *list.Element) {
	entry := element.Value.(*budgetEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.bytes -= entry.size
}

func (c *Budgeted[V]) updateSizeUnsafe() {
	c.stats.Update(int64(len(c.items)), c.bytes)
	if c.metrics != nil {
		c.metrics.update(len(c.items), c.bytes)
	}
}

func mb(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
