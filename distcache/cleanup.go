package distcache

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
)

// CleanupExpired deletes chunks that no live manifest refers to: chunks whose
// manifest has expired, and chunks beyond the count of a newer manifest. It
// returns the number of chunks removed. Deletes are rate limited. Running it
// concurrently with normal traffic is safe; a chunked write in flight may
// lose chunks written before its manifest, which later reads treat as a miss.
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	keys, err := c.backend.Keys(ctx, "")
	if err != nil {
		c.recordError("cleanup")
		return 0, err
	}

	byBase := make(map[string][]chunkRef)
	for _, k := range keys {
		base, idx, ok := codec.ParseChunkKey(k)
		if !ok {
			continue
		}
		byBase[base] = append(byBase[base], chunkRef{key: k, index: idx})
	}

	removed := 0
	for base, refs := range byBase {
		live, err := c.liveChunkCount(ctx, base)
		if err != nil {
			c.logger.Debug("Skipping chunks with unreadable manifest", "key", base, "error", err)
			continue
		}
		for _, ref := range refs {
			if ref.index < live {
				continue
			}
			if err := c.limiter.Wait(ctx); err != nil {
				c.recordOrphans(removed)
				return removed, err
			}
			if err := c.backend.Delete(ctx, ref.key); err != nil {
				c.recordError("cleanup")
				c.logger.Warn("Failed to delete orphaned chunk", "key", ref.key, "error", err)
				continue
			}
			removed++
		}
	}

	c.recordOrphans(removed)
	if removed > 0 {
		c.logger.Info("Removed orphaned chunks", "count", removed)
	}
	return removed, nil
}

type chunkRef struct {
	key   string
	index int
}

// liveChunkCount returns how many chunks of base the current manifest covers;
// zero when there is no manifest.
func (c *Cache) liveChunkCount(ctx context.Context, base string) (int, error) {
	raw, err := c.backend.Get(ctx, codec.InfoKey(base))
	if stderrors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var m codec.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, err
	}
	return m.Chunks, nil
}
