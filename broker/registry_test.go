package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

func TestRegistry(t *testing.T) {
	noop := HandlerFunc(func(context.Context, *task.Message) (any, error) { return "done", nil })

	reg := NewRegistry()
	err := reg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	require.NoError(t, reg.Register(task.TypeDetect, noop))
	assert.Error(t, reg.Register(task.TypeDetect, noop), "second registration")
	assert.Error(t, reg.Register("RENDER", noop), "unknown type")
	assert.Error(t, reg.Register(task.TypeSegment, nil), "nil handler")
	assert.Error(t, reg.MarkUnsupported(task.TypeDetect), "already handled")

	require.NoError(t, reg.MarkUnsupported(task.TypeBatch))
	assert.Error(t, reg.Register(task.TypeBatch, noop), "marked unsupported")
	require.Error(t, reg.Validate(), "segment still missing")

	require.NoError(t, reg.Register(task.TypeSegment, noop))
	require.NoError(t, reg.Validate())

	assert.Equal(t, []task.Type{task.TypeDetect, task.TypeSegment}, reg.Handled())
	assert.Equal(t, []string{"DETECT", "SEGMENT"}, reg.Names())

	h, ok := reg.Handler(task.TypeDetect)
	require.True(t, ok)
	out, err := h.Handle(context.Background(), &task.Message{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	_, ok = reg.Handler(task.TypeBatch)
	assert.False(t, ok)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "segtool.tasks.urgent", Topic(task.PriorityUrgent))
	assert.Equal(t, []string{
		"segtool.tasks.low", "segtool.tasks.normal", "segtool.tasks.high", "segtool.tasks.urgent",
	}, Topics())
	assert.Equal(t, "segtool.tasks.high.segment", Subject(task.PriorityHigh, task.TypeSegment))
	assert.Equal(t, "segtool.tasks.*.batch", TypeFilter(task.TypeBatch))
	assert.Equal(t, "segtool-detect", DurableName("segtool", task.TypeDetect))

	for _, p := range task.Priorities() {
		for _, ty := range task.Types() {
			subject := Subject(p, ty)
			got, ok := subjectType(subject)
			require.True(t, ok, subject)
			assert.Equal(t, ty, got)
			assert.True(t, subjectMatches(TypeFilter(ty), subject))
			assert.False(t, subjectMatches(DeadLetterSubject, subject))
		}
	}

	_, ok := subjectType(DeadLetterSubject)
	assert.False(t, ok)
	_, ok = subjectType("other.tasks.low.detect")
	assert.False(t, ok)
	_, ok = subjectType("segtool.tasks.low.render")
	assert.False(t, ok)
}

func TestDeadLetterHeaders(t *testing.T) {
	msg := &task.Message{MessageID: "m-9", MessageType: task.TypeBatch, RetryCount: 3, Priority: task.PriorityNormal}
	orig := messageHeaders(msg)
	orig.Set("Nats-Msg-Id", "m-9.3")

	h := deadLetterHeaders(orig, msg, "pdf missing", mustTime(t, "2025-03-01T12:00:00Z"))
	assert.Empty(t, h.Get("Nats-Msg-Id"))
	assert.Equal(t, "m-9", h.Get(HeaderMessageID))
	assert.Equal(t, "3", h.Get(HeaderRetryCount))
	assert.Equal(t, "NORMAL", h.Get(HeaderPriority))
	assert.Equal(t, "pdf missing", h.Get(HeaderErrorReason))
	assert.Equal(t, "2025-03-01T12:00:00Z", h.Get(HeaderFailedAt))
	assert.Equal(t, "m-9.3", dedupID(msg))
}
