// Package codec turns cached artifacts into framed, optionally compressed
// byte strings and splits oversized values into chunks.
package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultCompressionThreshold is the serialized size above which
	// compression is attempted.
	DefaultCompressionThreshold = 100 * 1024
	// DefaultMaxValueSize is the largest framed value stored as a single key.
	DefaultMaxValueSize = 512 * 1024
	// DefaultChunkSize is the size of each chunk of an oversized value.
	DefaultChunkSize = 64 * 1024

	defaultMaxDecoded = 1 << 30
)

var (
	// ErrCorrupt is returned for frames that cannot be decoded.
	ErrCorrupt = errors.New("codec: corrupt value")
	// ErrMissingChunk is returned when a chunked value is incomplete.
	ErrMissingChunk = errors.New("codec: missing chunk")
)

// Config controls serialization and framing.
type Config struct {
	Serializer           string // "cbor" or "json"
	CompressionThreshold int
	MaxValueSize         int
	ChunkSize            int
	Level                zstd.EncoderLevel
}

// DefaultConfig returns CBOR with the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Serializer:           "cbor",
		CompressionThreshold: DefaultCompressionThreshold,
		MaxValueSize:         DefaultMaxValueSize,
		ChunkSize:            DefaultChunkSize,
		Level:                zstd.SpeedDefault,
	}
}

// Codec encodes and decodes artifacts. It is safe for concurrent use.
type Codec struct {
	cfg        Config
	serializer Serializer
	framer     *framer
}

// New builds a Codec. Zero fields in cfg take their defaults.
func New(cfg Config) (*Codec, error) {
	def := DefaultConfig()
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = def.CompressionThreshold
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkSize > cfg.MaxValueSize {
		return nil, fmt.Errorf("codec: chunk size %d exceeds max value size %d", cfg.ChunkSize, cfg.MaxValueSize)
	}
	if cfg.Level == 0 {
		cfg.Level = def.Level
	}

	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	s, err := reg.Lookup(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	f, err := newFramer(cfg.Level, defaultMaxDecoded)
	if err != nil {
		return nil, err
	}
	return &Codec{cfg: cfg, serializer: s, framer: f}, nil
}

// Config returns the effective configuration.
func (c *Codec) Config() Config { return c.cfg }

// ContentType reports the serializer in use.
func (c *Codec) ContentType() string { return c.serializer.ContentType() }

// Encode serializes v and frames it.
func (c *Codec) Encode(v any) ([]byte, error) {
	out, _, err := c.EncodeInfo(v)
	return out, err
}

// EncodeInfo is Encode that also reports whether compression was applied.
func (c *Codec) EncodeInfo(v any) ([]byte, bool, error) {
	payload, err := c.serializer.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("codec: serialize %T: %w", v, err)
	}
	out, compressed := c.framer.frame(payload, c.cfg.CompressionThreshold)
	return out, compressed, nil
}

// Decode reverses Encode into v. Data without a recognized tag is treated as
// an unframed serialized value.
func (c *Codec) Decode(data []byte, v any) error {
	payload, err := c.framer.unframe(data)
	if err != nil {
		return err
	}
	if err := c.serializer.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: deserialize %T: %v", ErrCorrupt, v, err)
	}
	return nil
}

// NeedsChunking reports whether a framed value must be split.
func (c *Codec) NeedsChunking(framed []byte) bool {
	return len(framed) > c.cfg.MaxValueSize
}

// Split cuts a framed value into ChunkSize pieces.
func (c *Codec) Split(framed []byte) [][]byte {
	return Split(framed, c.cfg.ChunkSize)
}

// Close releases compression resources.
func (c *Codec) Close() {
	c.framer.close()
}
