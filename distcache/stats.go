package distcache

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rensir56/SegTool-for-Jade/metric"
)

// Statistics counts cache traffic. All methods are safe for concurrent use.
type Statistics struct {
	hits             atomic.Int64
	misses           atomic.Int64
	sets             atomic.Int64
	deletes          atomic.Int64
	errors           atomic.Int64
	chunkedWrites    atomic.Int64
	compressedWrites atomic.Int64
	bytesWritten     atomic.Int64
	orphansRemoved   atomic.Int64
}

// StatsSummary is a point-in-time copy of Statistics.
type StatsSummary struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Sets             int64   `json:"sets"`
	Deletes          int64   `json:"deletes"`
	Errors           int64   `json:"errors"`
	ChunkedWrites    int64   `json:"chunked_writes"`
	CompressedWrites int64   `json:"compressed_writes"`
	BytesWritten     int64   `json:"bytes_written"`
	OrphansRemoved   int64   `json:"orphans_removed"`
	HitRatio         float64 `json:"hit_ratio"`
}

// Summary returns a snapshot.
func (s *Statistics) Summary() StatsSummary {
	sum := StatsSummary{
		Hits:             s.hits.Load(),
		Misses:           s.misses.Load(),
		Sets:             s.sets.Load(),
		Deletes:          s.deletes.Load(),
		Errors:           s.errors.Load(),
		ChunkedWrites:    s.chunkedWrites.Load(),
		CompressedWrites: s.compressedWrites.Load(),
		BytesWritten:     s.bytesWritten.Load(),
		OrphansRemoved:   s.orphansRemoved.Load(),
	}
	if total := sum.Hits + sum.Misses; total > 0 {
		sum.HitRatio = float64(sum.Hits) / float64(total)
	}
	return sum
}

// cacheMetrics mirrors Statistics into Prometheus, labeled by namespace.
type cacheMetrics struct {
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	sets    *prometheus.CounterVec
	errors  *prometheus.CounterVec
	chunked prometheus.Counter
	bytes   prometheus.Counter
	orphans prometheus.Counter
}

const metricsService = "distcache"

func newCacheMetrics(registry metric.MetricsRegistrar) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "hits_total",
			Help:      "Distributed cache hits",
		}, []string{"namespace"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "misses_total",
			Help:      "Distributed cache misses, including unreadable entries",
		}, []string{"namespace"}),
		sets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "sets_total",
			Help:      "Distributed cache writes",
		}, []string{"namespace"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "errors_total",
			Help:      "Backend or codec errors by operation",
		}, []string{"operation"}),
		chunked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "chunked_writes_total",
			Help:      "Writes split into manifest and chunks",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "written_bytes_total",
			Help:      "Framed bytes written",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "distcache",
			Name:      "orphan_chunks_removed_total",
			Help:      "Chunks deleted by cleanup because their manifest expired",
		}),
	}

	if err := registry.RegisterCounterVec(metricsService, "hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "sets", m.sets); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "chunked_writes", m.chunked); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "written_bytes", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "orphans_removed", m.orphans); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Cache) recordHit(ns string) {
	c.stats.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.WithLabelValues(ns).Inc()
	}
}

func (c *Cache) recordMiss(ns string) {
	c.stats.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.WithLabelValues(ns).Inc()
	}
}

func (c *Cache) recordSet(ns string, bytes int, chunked, compressed bool) {
	c.stats.sets.Add(1)
	c.stats.bytesWritten.Add(int64(bytes))
	if chunked {
		c.stats.chunkedWrites.Add(1)
	}
	if compressed {
		c.stats.compressedWrites.Add(1)
	}
	if c.metrics != nil {
		c.metrics.sets.WithLabelValues(ns).Inc()
		c.metrics.bytes.Add(float64(bytes))
		if chunked {
			c.metrics.chunked.Inc()
		}
	}
}

func (c *Cache) recordError(op string) {
	c.stats.errors.Add(1)
	if c.metrics != nil {
		c.metrics.errors.WithLabelValues(op).Inc()
	}
}

func (c *Cache) recordOrphans(n int) {
	c.stats.orphansRemoved.Add(int64(n))
	if c.metrics != nil {
		c.metrics.orphans.Add(float64(n))
	}
}
