package broker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDelayQueue_FireOrCancelExactlyOnce(t *testing.T) {
	sched := &manualScheduler{}
	q := NewDelayQueue(sched)

	var fired, cancelled atomic.Int32
	fire := func() { fired.Add(1) }
	cancel := func() { cancelled.Add(1) }

	require.True(t, q.Schedule(5*time.Second, fire, cancel))
	require.True(t, q.Schedule(10*time.Second, fire, cancel))
	assert.Equal(t, 2, q.Pending())

	require.True(t, sched.fireNext())
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 1, q.Pending())

	assert.Equal(t, 1, q.Stop())
	assert.Equal(t, int32(1), cancelled.Load())
	assert.Zero(t, q.Pending())
	assert.False(t, sched.fireNext())

	assert.False(t, q.Schedule(time.Second, fire, cancel))
	assert.Equal(t, int32(2), cancelled.Load())
	assert.Equal(t, int32(1), fired.Load())
}

func TestDelayQueue_RealTimers(t *testing.T) {
	q := NewDelayQueue(nil)
	done := make(chan struct{})
	q.Schedule(time.Millisecond, func() { close(done) }, func() { t.Error("cancelled") })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, q.Pending())
	assert.Zero(t, q.Stop())
}
