package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	h := NewHealthy("kv", "ok")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.False(t, h.Timestamp.IsZero())

	u := NewUnhealthy("kv", "down")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())

	d := NewDegraded("kv", "slow")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		subs    []Status
		want    State
		message string
	}{
		{"empty", nil, StateHealthy, "no checks registered"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StateHealthy, "all 2 checks passing"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("model_server", "")}, StateDegraded, "degraded: model_server"},
		{
			"unhealthy wins",
			[]Status{NewUnhealthy("nats", ""), NewDegraded("model_server", ""), NewUnhealthy("cache", "")},
			StateUnhealthy,
			"unhealthy: cache, nats",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("segdispatch", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.want == StateHealthy, got.Healthy)
			assert.Equal(t, "segdispatch", got.Component)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestFromCheck(t *testing.T) {
	assert.True(t, FromCheck("broker", nil, true).IsHealthy())

	st := FromCheck("broker", errors.New("dial nats://10.0.0.5:4222 refused"), true)
	assert.True(t, st.IsUnhealthy())
	assert.Equal(t, "broker", st.Component)
	assert.NotContains(t, st.Message, "10.0.0.5")
	assert.Contains(t, st.Message, "[URL]")

	assert.True(t, FromCheck("model_server", errors.New("timeout"), false).IsDegraded())
}

func TestStatus_WithMetrics(t *testing.T) {
	st := NewHealthy("broker", "ok").WithMetrics(&Metrics{Processed: 12, PendingRetries: 2})
	if assert.NotNil(t, st.Metrics) {
		assert.Equal(t, int64(12), st.Metrics.Processed)
		assert.Equal(t, 2, st.Metrics.PendingRetries)
	}
}

func TestStatus_WithSubStatusDoesNotShare(t *testing.T) {
	parent := NewHealthy("segdispatch", "").WithSubStatus(NewHealthy("broker", ""))
	a := parent.WithSubStatus(NewHealthy("cache", ""))
	b := parent.WithSubStatus(NewUnhealthy("nats", ""))

	assert.Len(t, parent.SubStatuses, 1)
	assert.Equal(t, "cache", a.SubStatuses[1].Component)
	assert.Equal(t, "nats", b.SubStatuses[1].Component)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := map[string]struct {
		in, want string
	}{
		"empty":          {"", ""},
		"nats url":       {"dial nats://user:pw@10.0.0.5:4222 refused", "dial [URL] refused"},
		"model server":   {"POST http://gpu-0:8000/embed returned 503", "POST [URL] returned 503"},
		"image path":     {"open /data/pages/doc_3.png: no such file", "open [PATH]: no such file"},
		"bare address":   {"timeout after 10.1.2.3:6222", "timeout after [IP][PORT]"},
		"token":          {"auth failed token=abc123", "auth failed [REDACTED]"},
		"password colon": {"bad password:hunter2, retry", "bad [REDACTED], retry"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeErrorMessage(tt.in))
		})
	}
}
