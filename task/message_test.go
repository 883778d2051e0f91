package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
)

func TestNewMessage_Defaults(t *testing.T) {
	msg, err := NewDetectMessage("u1", "p1", DetectPayload{ImagePath: "/img/1.png", PageID: 1, Filename: "doc.pdf"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, TypeDetect, msg.MessageType)
	assert.Equal(t, PriorityNormal, msg.Priority)
	assert.Equal(t, DefaultMaxRetries, msg.MaxRetries)
	assert.Zero(t, msg.RetryCount)
	assert.WithinDuration(t, time.Now(), msg.Created(), time.Second)
}

func TestNewMessage_ConstructorPriorities(t *testing.T) {
	seg, err := NewSegmentMessage("u1", "p1", SegmentPayload{
		ImagePath: "/img/1.png",
		Clicks:    []fingerprint.Point{{X: 1, Y: 2, Category: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, seg.Priority)

	batch, err := NewBatchMessage("u1", "p1", BatchPayload{PDFFilename: "doc.pdf", StartPage: 1, EndPage: 3},
		WithPriority(PriorityLow), WithMessageID("fixed"))
	require.NoError(t, err)
	assert.Equal(t, PriorityLow, batch.Priority)
	assert.Equal(t, "fixed", batch.MessageID)
}

func TestNewMessage_RejectsInvalid(t *testing.T) {
	_, err := NewMessage(Type("RENDER"), "u1", "p1", nil, PriorityNormal)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewMessage(TypeDetect, "u1", "p1", nil, Priority("SOMETIME"))
	assert.True(t, errors.IsInvalid(err))

	_, err = NewMessage(TypeDetect, "u1", "p1", nil, PriorityLow, WithMaxRetries(-1))
	assert.True(t, errors.IsInvalid(err))

	_, err = NewBatchMessage("u1", "p1", BatchPayload{PDFFilename: "doc.pdf", StartPage: 5, EndPage: 2})
	assert.True(t, errors.IsInvalid(err))
}

func TestMessage_WireFormat(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	msg, err := NewDetectMessage("u1", "p1", DetectPayload{ImagePath: "/img/1.png", PageID: 2, Filename: "doc.pdf"},
		WithMessageID("m-1"), WithCreatedAt(created))
	require.NoError(t, err)

	data, err := msg.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "m-1", wire["message_id"])
	assert.Equal(t, "DETECT", wire["message_type"])
	assert.Equal(t, "NORMAL", wire["priority"])
	assert.Equal(t, float64(3), wire["max_retries"])
	assert.Equal(t, float64(0), wire["retry_count"])
	assert.InDelta(t, 1740830400.5, wire["created_at"], 1e-6)
	assert.Equal(t, map[string]any{"image_path": "/img/1.png", "page_id": float64(2), "filename": "doc.pdf"}, wire["payload"])

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
	assert.True(t, created.Equal(decoded.Created()))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.True(t, errors.IsInvalid(err))

	_, err = Decode([]byte(`{"message_id":"x","message_type":"DETECT","priority":"NORMAL","retry_count":-2}`))
	assert.True(t, errors.IsInvalid(err))
}

func TestMessage_NextAttempt(t *testing.T) {
	msg, err := NewDetectMessage("u1", "p1", DetectPayload{ImagePath: "/img/1.png", Filename: "doc.pdf"})
	require.NoError(t, err)

	next := msg.NextAttempt()
	assert.Equal(t, msg.MessageID, next.MessageID)
	assert.Equal(t, 1, next.RetryCount)
	assert.Zero(t, msg.RetryCount)

	next.Payload[0] = 'X'
	assert.NotEqual(t, next.Payload[0], msg.Payload[0])

	for next.CanRetry() {
		next = next.NextAttempt()
	}
	assert.Equal(t, next.MaxRetries, next.RetryCount)
}

func TestDecodePayload(t *testing.T) {
	clicks := []fingerprint.Point{{X: 100, Y: 200, Category: 1}, {X: 5, Y: 6, Category: 0}}
	msg, err := NewSegmentMessage("u1", "p1", SegmentPayload{ImagePath: "/img/1.png", Clicks: clicks})
	require.NoError(t, err)

	p, err := DecodePayload[SegmentPayload](msg)
	require.NoError(t, err)
	assert.Equal(t, clicks, p.Clicks)

	_, err = DecodePayload[BatchPayload](msg)
	assert.True(t, errors.IsInvalid(err))
}

func TestBatchPayload_Pages(t *testing.T) {
	assert.Equal(t, 1, BatchPayload{PDFFilename: "a", StartPage: 3, EndPage: 3}.Pages())
	assert.Equal(t, 5, BatchPayload{PDFFilename: "a", StartPage: 1, EndPage: 5}.Pages())
}

func TestParseTypeAndPriority(t *testing.T) {
	for _, typ := range Types() {
		got, err := ParseType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	for _, p := range Priorities() {
		got, err := ParsePriority(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParseType("detect")
	assert.Error(t, err)
	_, err = ParsePriority("")
	assert.Error(t, err)
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRetrying.Terminal())
	assert.False(t, StatusQueued.Terminal())
}
