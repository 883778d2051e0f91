// Package cache provides the process-local embedding cache: a thread-safe LRU
// bounded both by entry count and by an estimated memory budget.
//
// # Overview
//
// Image embeddings are large (tens of MiB) and expensive to compute, so a
// worker keeps the most recently used ones in memory in front of the
// distributed cache. Budgeted[V] is generic over the value type and charges
// each entry the size reported by a SizeFunc; NewEmbeddingCache binds it to
// *tensor.Tensor and charges element count times element width.
//
// # Eviction
//
// Before an insert, least recently used entries are evicted while the cache
// is at its entry limit or the new entry would push the running byte total
// over the budget. A value that alone exceeds the budget is rejected with
// ErrTooLarge and the cache is left untouched. Get promotes the entry to most
// recently used and updates its access metadata.
//
// # Quick Start
//
//	embeddings, err := cache.NewEmbeddingCache(10, 1024,
//		cache.WithMetrics[*tensor.Tensor](registry, "embedding"),
//	)
//	if err != nil {
//		return err
//	}
//	if t, ok := embeddings.Get(fileFP); ok {
//		return t, nil
//	}
//	err = embeddings.Put(fileFP, computed, map[string]string{"image": path})
//
// # Concurrency
//
// A single mutex guards the entry map, the recency list and the byte total.
// Eviction callbacks run after the mutex is released.
//
// # Observability
//
// Statistics are always collected and available through Stats. WithMetrics
// additionally exports them to Prometheus.
package cache
