package cache

import (
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

// Embedding cache defaults.
const (
	DefaultMaxEntries  = 10
	DefaultMaxMemoryMB = 1024
)

// EmbeddingCache holds image embeddings keyed by file fingerprint.
type EmbeddingCache = Budgeted[*tensor.Tensor]

// NewEmbeddingCache creates an embedding cache charging each tensor its
// element count times element width.
func NewEmbeddingCache(maxEntries, maxMemoryMB int, options ...Option[*tensor.Tensor]) (*EmbeddingCache, error) {
	return NewBudgeted[*tensor.Tensor](maxEntries, int64(maxMemoryMB)*1024*1024, tensorSize, options...)
}

func tensorSize(t *tensor.Tensor) int64 {
	return t.ByteSize()
}
