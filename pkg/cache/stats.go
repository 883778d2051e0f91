package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance metrics.
type Statistics struct {
	// Atomic counters for thread-safe updates
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
	rejected  int64

	// Protected by mutex
	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
	memoryUsage int64 // estimated bytes
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Hit records a cache hit.
func (s *Statistics) Hit() {
	atomic.AddInt64(&s.hits, 1)
}

// Miss records a cache miss.
func (s *Statistics) Miss() {
	atomic.AddInt64(&s.misses, 1)
}

// Set records a cache set operation.
func (s *Statistics) Set() {
	atomic.AddInt64(&s.sets, 1)
}

// Delete records a cache delete operation.
func (s *Statistics) Delete() {
	atomic.AddInt64(&s.deletes, 1)
}

// Eviction records a cache eviction.
func (s *Statistics) Eviction() {
	atomic.AddInt64(&s.evictions, 1)
}

// Reject records an insert abandoned because the value could not fit.
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejected, 1)
}

// Update sets the current entry count and estimated memory usage.
func (s *Statistics) Update(size, memory int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.memoryUsage = memory
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 {
	return atomic.LoadInt64(&s.hits)
}

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 {
	return atomic.LoadInt64(&s.misses)
}

// Evictions returns the total number of evictions.
func (s *Statistics) Evictions() int64 {
	return atomic.LoadInt64(&s.evictions)
}

// HitRatio returns hits over total lookups, from 0.0 to 1.0.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.sets, 0)
	atomic.StoreInt64(&s.deletes, 0)
	atomic.StoreInt64(&s.evictions, 0)
	atomic.StoreInt64(&s.rejected, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.maxSize = s.currentSize
	s.mu.Unlock()
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Hits          int64         `json:"hits"`
	Misses        int64         `json:"misses"`
	Sets          int64         `json:"sets"`
	Deletes       int64         `json:"deletes"`
	Evictions     int64         `json:"evictions"`
	Rejected      int64         `json:"rejected"`
	TotalRequests int64         `json:"total_requests"`
	Entries       int64         `json:"entries"`
	MaxEntries    int           `json:"max_entries"`
	PeakEntries   int64         `json:"peak_entries"`
	MemoryBytes   int64         `json:"memory_bytes"`
	MemoryMB      float64       `json:"memory_mb"`
	MaxMemoryMB   float64       `json:"max_memory_mb"`
	HitRate       float64       `json:"hit_rate"`
	Uptime        time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics. Limits are filled in by the
// owning cache.
func (s *Statistics) Summary() StatsSummary {
	hits, misses := s.Hits(), s.Misses()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsSummary{
		Hits:          hits,
		Misses:        misses,
		Sets:          atomic.LoadInt64(&s.sets),
		Deletes:       atomic.LoadInt64(&s.deletes),
		Evictions:     s.Evictions(),
		Rejected:      atomic.LoadInt64(&s.rejected),
		TotalRequests: hits + misses,
		Entries:       s.currentSize,
		PeakEntries:   s.maxSize,
		MemoryBytes:   s.memoryUsage,
		MemoryMB:      float64(s.memoryUsage) / (1024 * 1024),
		HitRate:       s.HitRatio(),
		Uptime:        time.Since(s.startTime),
	}
}
