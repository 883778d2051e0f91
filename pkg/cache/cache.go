package cache

import (
	stderrors "errors"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// ErrTooLarge is returned when a value cannot fit in an empty cache.
var ErrTooLarge = stderrors.New("cache: value exceeds memory budget")

// EvictCallback is called when an entry is evicted from the cache.
// It receives the key and value of the evicted entry.
type EvictCallback[V any] func(key string, value V)

// SizeFunc estimates the memory charged for a value, in bytes.
type SizeFunc[V any] func(V) int64

// EntryInfo describes a cached entry without its value.
type EntryInfo struct {
	Key          string            `json:"key"`
	CreatedAt    time.Time         `json:"created_at"`
	LastAccessed time.Time         `json:"last_accessed"`
	AccessCount  int64             `json:"access_count"`
	SizeBytes    int64             `json:"size_bytes"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// validateKey validates a cache key for basic requirements.
// Returns a classified error if the key is invalid.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
