package distcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
)

func TestCleanupExpired_RemovesOrphans(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := newTestCache(t, backend, WithCleanupRate(rate.Inf, 1))

	live := GenericKey("live")
	orphaned := GenericKey("orphaned")
	require.NoError(t, c.Store(ctx, live, artifact{Blob: randomBlob(600 * 1024)}, time.Hour))
	require.NoError(t, c.Store(ctx, orphaned, artifact{Blob: randomBlob(600 * 1024)}, time.Hour))
	require.NoError(t, backend.Delete(ctx, codec.InfoKey(orphaned.String())))

	removed, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, removed)

	left, err := backend.Keys(ctx, orphaned.String())
	require.NoError(t, err)
	assert.Empty(t, left)

	var out artifact
	assert.True(t, c.Get(ctx, live, &out))
	assert.EqualValues(t, 10, c.Stats().OrphansRemoved)

	removed, err = c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleanupExpired_TrimsChunksBeyondManifest(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := newTestCache(t, backend, WithCleanupRate(rate.Inf, 1))

	key := GenericKey("shrunk").String()
	manifest, err := json.Marshal(codec.Manifest{Chunks: 2, TotalSize: 4, ChunkSize: 2})
	require.NoError(t, err)
	require.NoError(t, backend.Put(ctx, codec.InfoKey(key), manifest, time.Hour))
	for i := range 4 {
		require.NoError(t, backend.Put(ctx, codec.ChunkKey(key, i), []byte{0, 1}, time.Hour))
	}

	removed, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	left, err := backend.Keys(ctx, key+":chunk:")
	require.NoError(t, err)
	assert.Equal(t, []string{codec.ChunkKey(key, 0), codec.ChunkKey(key, 1)}, left)
}

func TestCleanupExpired_StopsOnCancel(t *testing.T) {
	backend := NewMemoryBackend()
	c := newTestCache(t, backend, WithCleanupRate(rate.Every(time.Hour), 1))

	key := GenericKey("orphan").String()
	for i := range 3 {
		require.NoError(t, backend.Put(context.Background(), codec.ChunkKey(key, i), []byte{1}, time.Hour))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	removed, err := c.CleanupExpired(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, removed, "the burst allows one delete before waiting")
}
