package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	m := NewMonitor()
	assert.Zero(t, m.Count())

	m.Update("cache", Status{Component: "wrong", Status: "healthy"})
	st, ok := m.Get("cache")
	require.True(t, ok)
	assert.Equal(t, "cache", st.Component, "name comes from the key")
	assert.False(t, st.Timestamp.IsZero())

	m.UpdateDegraded("broker", "reconnecting")
	m.UpdateUnhealthy("model", "down")
	assert.Equal(t, []string{"broker", "cache", "model"}, m.ListComponents())
	assert.Len(t, m.GetAll(), 3)

	agg := m.AggregateHealth("segdispatch")
	assert.True(t, agg.IsUnhealthy())
	assert.Equal(t, "broker", agg.SubStatuses[0].Component)

	m.Remove("model")
	assert.True(t, m.AggregateHealth("segdispatch").IsDegraded())

	m.Clear()
	assert.Zero(t, m.Count())
	_, ok = m.Get("cache")
	assert.False(t, ok)
}

func TestMonitor_RunChecks(t *testing.T) {
	var mu sync.Mutex
	observed := map[string]bool{}
	m := NewMonitor(
		WithCheckTimeout(50*time.Millisecond),
		WithObserver(func(name string, healthy bool) {
			mu.Lock()
			defer mu.Unlock()
			observed[name] = healthy
		}),
	)

	m.Register("broker", func(context.Context) error { return nil }, true)
	m.Register("model_server", func(context.Context) error { return errors.New("503") }, false)

	st := m.RunChecks(context.Background(), "segdispatch")
	assert.True(t, st.IsDegraded())
	assert.Equal(t, map[string]bool{"broker": true, "model_server": false}, observed)

	m.Register("cache", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, true)
	st = m.RunChecks(context.Background(), "segdispatch")
	assert.True(t, st.IsUnhealthy())
	cache, ok := m.Get("cache")
	require.True(t, ok)
	assert.Contains(t, cache.Message, "deadline")
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("c%d", i%5)
			m.UpdateHealthy(name, "ok")
			_, _ = m.Get(name)
			_ = m.AggregateHealth("sys")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, m.Count())
}
