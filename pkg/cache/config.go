package cache

import (
	"fmt"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

// Config contains configuration for the embedding cache.
type Config struct {
	// MaxEntries is the maximum number of cached embeddings.
	MaxEntries int `json:"max_entries" yaml:"max_entries" validate:"min=1"`

	// MaxMemoryMB is the memory budget in MiB.
	MaxMemoryMB int `json:"max_memory_mb" yaml:"max_memory_mb" validate:"min=1"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:  DefaultMaxEntries,
		MaxMemoryMB: DefaultMaxMemoryMB,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MaxEntries <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("max_entries must be positive, got %d", c.MaxEntries))
	}
	if c.MaxMemoryMB <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "Validate",
			fmt.Sprintf("max_memory_mb must be positive, got %d", c.MaxMemoryMB))
	}
	return nil
}

// NewFromConfig creates an embedding cache from config.
func NewFromConfig(config Config, options ...Option[*tensor.Tensor]) (*EmbeddingCache, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation failed")
	}
	return NewEmbeddingCache(config.MaxEntries, config.MaxMemoryMB, options...)
}
