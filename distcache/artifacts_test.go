package distcache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

func TestCache_EmbeddingAndLogit(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryBackend())

	emb, err := tensor.FromFloat32([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	_, ok := c.GetEmbedding(ctx, "fp")
	assert.False(t, ok)

	c.SetEmbedding(ctx, "fp", emb)
	got, ok := c.GetEmbedding(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, emb.Shape, got.Shape)
	values, err := got.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, values)

	c.SetLogit(ctx, "fp", "sig", emb)
	_, ok = c.GetLogit(ctx, "fp", "sig")
	assert.True(t, ok)
	_, ok = c.GetLogit(ctx, "fp", "other")
	assert.False(t, ok)
}

func TestCache_LargeEmbeddingRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := newTestCache(t, backend)

	values := make([]float32, 256*32*32)
	for i := range values {
		values[i] = float32(i%977) * 0.37
	}
	emb, err := tensor.FromFloat32([]int{256, 32, 32}, values)
	require.NoError(t, err)

	c.SetEmbedding(ctx, "fp", emb)
	got, ok := c.GetEmbedding(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, emb.Data, got.Data)
}

func TestCache_SessionUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryBackend())

	require.NoError(t, c.UpdateSessionField(ctx, "u1", "theme", "dark"))
	require.NoError(t, c.UpdateSession(ctx, "u1", func(s *Session) {
		s.LastImage = "/img/a.png"
		s.TotalClicks = 3
	}))

	s, ok := c.GetSession(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "/img/a.png", s.LastImage)
	assert.Equal(t, 3, s.TotalClicks)
	assert.Equal(t, map[string]string{"theme": "dark"}, s.Fields)

	c.SetSession(ctx, Session{UserID: "u1", LastImage: "/img/b.png"})
	s, ok = c.GetSession(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "/img/b.png", s.LastImage)
	assert.Nil(t, s.Fields)
}

func TestCache_BatchStatus(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryBackend())

	for page := 1; page <= 2; page++ {
		require.NoError(t, c.UpdateBatchStatus(ctx, "u1", "doc.pdf", func(s *BatchStatus) {
			s.StartPage, s.EndPage = 1, 4
			s.ProcessedPages = append(s.ProcessedPages, PageOutcome{Page: page, Status: "success"})
			s.Progress = float64(page) / 4
		}))
	}

	s, ok := c.GetBatchStatus(ctx, "u1", "doc.pdf")
	require.True(t, ok)
	assert.Equal(t, "doc.pdf", s.Filename)
	assert.Len(t, s.ProcessedPages, 2)
	assert.InDelta(t, 0.5, s.Progress, 1e-9)
	assert.False(t, s.UpdatedAt.IsZero())
}

func TestCache_PageLock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, NewMemoryBackend(WithClock(clock.Now)))

	ok, err := c.AcquirePageLock(ctx, "u1", "doc.pdf", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquirePageLock(ctx, "u2", "doc.pdf", 3)
	require.NoError(t, err)
	assert.True(t, ok, "locks are scoped per user")

	ok, err = c.AcquirePageLock(ctx, "u1", "doc.pdf", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleasePageLock(ctx, "u1", "doc.pdf", 3))
	ok, err = c.AcquirePageLock(ctx, "u1", "doc.pdf", 3)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(5 * time.Minute)
	ok, err = c.AcquirePageLock(ctx, "u2", "doc.pdf", 3)
	require.NoError(t, err)
	assert.True(t, ok, "an abandoned lock expires")
}

func TestCache_TaskRecords(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryBackend())

	_, err := c.TaskRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := task.Record{
		MessageID:   "m1",
		MessageType: task.TypeSegment,
		Status:      task.StatusCompleted,
		Result:      json.RawMessage(`{"score":0.9}`),
		UpdatedAt:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.SaveTaskRecord(ctx, rec))

	got, err := c.TaskRecord(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rec.Status, got.Status)
	assert.JSONEq(t, `{"score":0.9}`, string(got.Result))
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))
}

func TestCache_Generic(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryBackend())

	c.SetGeneric(ctx, "greeting", map[string]int{"a": 1}, 0)
	var out map[string]int
	require.True(t, c.GetGeneric(ctx, "greeting", &out))
	assert.Equal(t, map[string]int{"a": 1}, out)

	require.NoError(t, c.DeleteGeneric(ctx, "greeting"))
	assert.False(t, c.GetGeneric(ctx, "greeting", &out))
}

func TestCache_ClearUser(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c := newTestCache(t, backend)

	c.SetSession(ctx, Session{UserID: "u1"})
	c.SetSession(ctx, Session{UserID: "u10"})
	require.NoError(t, c.UpdateBatchStatus(ctx, "u1", "a.pdf", func(*BatchStatus) {}))
	require.NoError(t, c.UpdateBatchStatus(ctx, "u10", "a.pdf", func(*BatchStatus) {}))
	_, err := c.AcquirePageLock(ctx, "u1", "a.pdf", 1)
	require.NoError(t, err)
	c.SetEmbedding(ctx, "u1", &tensor.Tensor{Version: tensor.Version, DType: tensor.Uint8, Shape: []int{1}, Data: []byte{1}})

	removed, err := c.ClearUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, ok := c.GetSession(ctx, "u1")
	assert.False(t, ok)
	_, ok = c.GetSession(ctx, "u10")
	assert.True(t, ok)
	_, ok = c.GetBatchStatus(ctx, "u10", "a.pdf")
	assert.True(t, ok)
	_, ok = c.GetEmbedding(ctx, "u1")
	assert.True(t, ok, "artifacts keyed by fingerprint are not user data")
}
