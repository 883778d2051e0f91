package distcache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/metric"
	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
)

// Defaults for Cache options.
const (
	DefaultFetchConcurrency = 8
	DefaultCleanupRate      = rate.Limit(200)
	DefaultCleanupBurst     = 50
)

// Cache stores codec-encoded artifacts in a Backend.
type Cache struct {
	backend          Backend
	codec            *codec.Codec
	ttls             TTLs
	fetchConcurrency int
	limiter          *rate.Limiter
	logger           *slog.Logger
	registrar        metric.MetricsRegistrar

	stats   Statistics
	metrics *cacheMetrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithTTLs overrides the per-class expiries. Zero fields keep their default.
func WithTTLs(ttls TTLs) Option {
	return func(c *Cache) { c.ttls = ttls.withDefaults() }
}

// WithFetchConcurrency bounds parallel chunk reads and writes.
func WithFetchConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.fetchConcurrency = n
		}
	}
}

// WithCleanupRate limits deletes issued by CleanupExpired.
func WithCleanupRate(limit rate.Limit, burst int) Option {
	return func(c *Cache) { c.limiter = rate.NewLimiter(limit, max(burst, 1)) }
}

// WithMetrics exports cache counters through registrar.
func WithMetrics(registrar metric.MetricsRegistrar) Option {
	return func(c *Cache) { c.registrar = registrar }
}

// New builds a Cache over backend.
func New(backend Backend, cdc *codec.Codec, opts ...Option) (*Cache, error) {
	if backend == nil || cdc == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Cache", "New", "backend and codec are required")
	}
	c := &Cache{
		backend:          backend,
		codec:            cdc,
		ttls:             DefaultTTLs(),
		fetchConcurrency: DefaultFetchConcurrency,
		limiter:          rate.NewLimiter(DefaultCleanupRate, DefaultCleanupBurst),
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "distcache")

	if c.registrar != nil {
		m, err := newCacheMetrics(c.registrar)
		if err != nil {
			return nil, errors.Wrap(err, "Cache", "New", "register metrics")
		}
		c.metrics = m
	}
	return c, nil
}

// TTLs returns the effective per-class expiries.
func (c *Cache) TTLs() TTLs { return c.ttls }

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() StatsSummary { return c.stats.Summary() }

// Ping checks backend reachability.
func (c *Cache) Ping(ctx context.Context) error { return c.backend.Ping(ctx) }

// Get decodes the value at key into v and reports whether it was found.
// Backend and decode failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key Key, v any) bool {
	found, err := c.Load(ctx, key, v)
	if err != nil {
		c.recordError("get")
		c.logger.Warn("Cache read failed, treating as miss", "key", key.String(), "error", err)
	}
	if found {
		c.recordHit(key.Namespace)
	} else {
		c.recordMiss(key.Namespace)
	}
	return found
}

// Set stores v at key. A ttl of zero uses the class default. Failures are
// logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key Key, v any, ttl time.Duration) {
	if err := c.Store(ctx, key, v, ttl); err != nil {
		c.recordError("set")
		c.logger.Warn("Cache write failed, skipping", "key", key.String(), "error", err)
	}
}

// Load is Get with errors. A missing key is (false, nil).
func (c *Cache) Load(ctx context.Context, key Key, v any) (bool, error) {
	k := key.String()

	data, err := c.backend.Get(ctx, k)
	switch {
	case err == nil:
	case stderrors.Is(err, ErrNotFound):
		data, err = c.loadChunked(ctx, k)
		if err != nil {
			if stderrors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	default:
		return false, err
	}

	if err := c.codec.Decode(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) loadChunked(ctx context.Context, k string) ([]byte, error) {
	raw, err := c.backend.Get(ctx, codec.InfoKey(k))
	if err != nil {
		return nil, err
	}
	var m codec.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest of %s: %v", codec.ErrCorrupt, k, err)
	}
	if m.Chunks <= 0 {
		return nil, fmt.Errorf("%w: manifest of %s lists %d chunks", codec.ErrCorrupt, k, m.Chunks)
	}

	chunks := make([][]byte, m.Chunks)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i := range chunks {
		g.Go(func() error {
			data, err := c.backend.Get(gctx, codec.ChunkKey(k, i))
			if stderrors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s chunk %d", codec.ErrMissingChunk, k, i)
			}
			if err != nil {
				return err
			}
			chunks[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codec.Join(m, chunks)
}

// Store is Set with errors. Values too large for one entry are written as
// chunks followed by their manifest.
func (c *Cache) Store(ctx context.Context, key Key, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttlFor(key)
	}
	k := key.String()

	framed, compressed, err := c.codec.EncodeInfo(v)
	if err != nil {
		return err
	}

	if !c.codec.NeedsChunking(framed) {
		if err := c.backend.Put(ctx, k, framed, ttl); err != nil {
			return err
		}
		if err := c.backend.Delete(ctx, codec.InfoKey(k)); err != nil {
			c.logger.Debug("Stale manifest not removed", "key", k, "error", err)
		}
		c.recordSet(key.Namespace, len(framed), false, compressed)
		return nil
	}

	chunks := c.codec.Split(framed)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.fetchConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			return c.backend.Put(gctx, codec.ChunkKey(k, i), chunk, ttl)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write chunks of %s: %w", k, err)
	}

	manifest, err := json.Marshal(codec.NewManifest(framed, chunks, c.codec.Config().ChunkSize))
	if err != nil {
		return err
	}
	if err := c.backend.Put(ctx, codec.InfoKey(k), manifest, ttl); err != nil {
		return fmt.Errorf("write manifest of %s: %w", k, err)
	}
	if err := c.backend.Delete(ctx, k); err != nil {
		c.logger.Debug("Stale value not removed", "key", k, "error", err)
	}

	c.recordSet(key.Namespace, len(framed), true, compressed)
	c.logger.Debug("Stored chunked value", "key", k, "chunks", len(chunks), "bytes", len(framed))
	return nil
}

// Create stores v only if key is absent and reports whether it did. Values
// must fit in a single entry.
func (c *Cache) Create(ctx context.Context, key Key, v any, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = c.ttlFor(key)
	}
	framed, err := c.encodeSingle(key, v)
	if err != nil {
		return false, err
	}
	err = c.backend.Create(ctx, key.String(), framed, ttl)
	if stderrors.Is(err, ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.recordSet(key.Namespace, len(framed), false, false)
	return true, nil
}

// Delete removes key in either of its stored forms.
func (c *Cache) Delete(ctx context.Context, key Key) error {
	k := key.String()
	targets := []string{k, codec.InfoKey(k)}
	chunkKeys, err := c.backend.Keys(ctx, k+":chunk:")
	if err != nil {
		return err
	}
	targets = append(targets, chunkKeys...)

	for _, t := range targets {
		if err := c.backend.Delete(ctx, t); err != nil {
			return err
		}
	}
	c.stats.deletes.Add(1)
	return nil
}

func (c *Cache) encodeSingle(key Key, v any) ([]byte, error) {
	framed, err := c.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.codec.NeedsChunking(framed) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%d bytes exceeds the single entry limit", len(framed)),
			"Cache", "encodeSingle", "encode "+key.String())
	}
	return framed, nil
}

// updateValue applies fn to the decoded value at key under the backend's
// atomic update. fn receives the zero T and false when the key is absent or
// unreadable.
func updateValue[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, fn func(v *T, found bool) error) error {
	if ttl <= 0 {
		ttl = c.ttlFor(key)
	}
	err := c.backend.Update(ctx, key.String(), ttl, func(current []byte) ([]byte, error) {
		var v T
		found := false
		if current != nil {
			if err := c.codec.Decode(current, &v); err != nil {
				c.logger.Warn("Replacing unreadable value", "key", key.String(), "error", err)
				v = *new(T)
			} else {
				found = true
			}
		}
		if err := fn(&v, found); err != nil {
			return nil, err
		}
		return c.encodeSingle(key, v)
	})
	if err != nil {
		return err
	}
	c.recordSet(key.Namespace, 0, false, false)
	return nil
}

func (c *Cache) ttlFor(key Key) time.Duration {
	switch key.Class {
	case ClassEmbedding:
		return c.ttls.Embedding
	case ClassLogit:
		return c.ttls.Logit
	case ClassSession:
		return c.ttls.Session
	case ClassResult:
		return c.ttls.Detection
	case ClassBatch:
		return c.ttls.Batch
	case ClassLock:
		return c.ttls.PageLock
	case ClassStatus:
		return c.ttls.Task
	default:
		return c.ttls.Generic
	}
}
