package natsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/metric"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.Backoff())
}

func TestNewClient_OptionError(t *testing.T) {
	bad := func(*Client) error { return errors.New("nope") }
	_, err := NewClient("nats://localhost:4222", bad)
	assert.Error(t, err)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.Equal(t, int32(3), c.Failures())

	_, err = c.ready()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.Equal(t, int32(0), c.Failures())
	assert.Equal(t, time.Second, c.Backoff())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestCircuitBreaker_BackoffDoublesAndCaps(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithMaxBackoff(5*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 2*time.Second, c.Backoff())

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 4*time.Second, c.Backoff())

	for i := 0; i < 50; i++ {
		c.recordFailure()
	}
	assert.Equal(t, 5*time.Second, c.Backoff())
}

func TestCircuitBreaker_HalfOpenWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.recordFailure()
	}
	c.halfOpen()
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.recordFailure()
			_ = c.Status()
			_ = c.GetStatus()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), c.Failures())
	assert.Equal(t, StatusCircuitOpen, c.Status())
}

func TestObserve_ApplicationErrorsDoNotTrip(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	c.observe(jetstream.ErrKeyNotFound, "get")
	c.observe(fmt.Errorf("wrapped: %w", jetstream.ErrKeyExists), "create")
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.observe(errors.New("i/o timeout"), "publish")
	assert.Equal(t, StatusCircuitOpen, c.Status())
}

func TestReady_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.ready()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.PublishMsg(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{Bucket: "x"})
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.Consume(context.Background(), "S", jetstream.ConsumerConfig{Durable: "d"}, func(jetstream.Msg) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCredentials("u", "p"), WithToken("t"))
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Empty(t, c.username)
	assert.Empty(t, c.token)

	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	_, err = c.ready()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, c.WaitForConnection(ctx))

	c.setStatus(StatusConnected)
	assert.NoError(t, c.WaitForConnection(context.Background()))
}

func TestConnect_Unreachable(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond),
		WithMaxReconnects(0),
		WithHealthInterval(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, int32(1), c.Failures())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectionOptions(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("segtool-worker"),
		WithCredentials("user", "pass"),
		WithReconnectWait(time.Second),
		WithPingInterval(time.Second),
		WithDrainTimeout(time.Second),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, c.connectionOptions())
}

func TestWithMetrics_RegistersOnce(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	c, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)
	require.NotNil(t, c.jsMetrics)
	c.jsMetrics.recordError("publish")

	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	assert.Error(t, err, "second client cannot register the same collectors")
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.True(t, IsKVConflictError(errors.New("wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(errors.New("other")))
}
