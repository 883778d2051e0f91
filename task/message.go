package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// DefaultMaxRetries is the retry allowance of a new message.
const DefaultMaxRetries = 3

// Message is the unit of work exchanged through the broker. Its JSON form is
// the wire format.
type Message struct {
	MessageID   string          `json:"message_id"`
	MessageType Type            `json:"message_type"`
	UserID      string          `json:"user_id"`
	ProjectID   string          `json:"project_id"`
	Payload     json.RawMessage `json:"payload"`
	Priority    Priority        `json:"priority"`
	MaxRetries  int             `json:"max_retries"`
	RetryCount  int             `json:"retry_count"`
	CreatedAt   float64         `json:"created_at"`
}

// Option configures a message at construction.
type Option func(*Message)

// WithMessageID sets an explicit id instead of a generated UUID.
func WithMessageID(id string) Option {
	return func(m *Message) { m.MessageID = id }
}

// WithPriority overrides the constructor's default priority.
func WithPriority(p Priority) Option {
	return func(m *Message) { m.Priority = p }
}

// WithMaxRetries overrides DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(m *Message) { m.MaxRetries = n }
}

// WithCreatedAt sets the creation time. Useful for tests.
func WithCreatedAt(t time.Time) Option {
	return func(m *Message) { m.CreatedAt = UnixSeconds(t) }
}

// NewMessage builds a validated message. payload is marshaled to JSON; a
// json.RawMessage is used as is.
func NewMessage(t Type, userID, projectID string, payload any, priority Priority, opts ...Option) (*Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, errors.WrapInvalid(err, "task", "NewMessage", "marshal payload")
	}

	m := &Message{
		MessageType: t,
		UserID:      userID,
		ProjectID:   projectID,
		Payload:     raw,
		Priority:    priority,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   UnixSeconds(time.Now()),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewDetectMessage builds a DETECT message at NORMAL priority.
func NewDetectMessage(userID, projectID string, p DetectPayload, opts ...Option) (*Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(TypeDetect, userID, projectID, p, PriorityNormal, opts...)
}

// NewSegmentMessage builds a SEGMENT message at HIGH priority, since
// segmentation is interactive.
func NewSegmentMessage(userID, projectID string, p SegmentPayload, opts ...Option) (*Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(TypeSegment, userID, projectID, p, PriorityHigh, opts...)
}

// NewBatchMessage builds a BATCH message at NORMAL priority.
func NewBatchMessage(userID, projectID string, p BatchPayload, opts ...Option) (*Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewMessage(TypeBatch, userID, projectID, p, PriorityNormal, opts...)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// Validate checks the envelope fields.
func (m *Message) Validate() error {
	var problem string
	switch {
	case m.MessageID == "":
		problem = "message_id is required"
	case !m.MessageType.Valid():
		problem = fmt.Sprintf("unknown message type %q", m.MessageType)
	case !m.Priority.Valid():
		problem = fmt.Sprintf("unknown priority %q", m.Priority)
	case m.MaxRetries < 0:
		problem = fmt.Sprintf("max_retries %d is negative", m.MaxRetries)
	case m.RetryCount < 0:
		problem = fmt.Sprintf("retry_count %d is negative", m.RetryCount)
	}
	if problem == "" {
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%s", problem), "Message", "Validate", "validate envelope")
}

// CanRetry reports whether a failed attempt may be retried.
func (m *Message) CanRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// NextAttempt returns a copy of m for the next delivery attempt.
func (m *Message) NextAttempt() *Message {
	next := *m
	next.Payload = bytes.Clone(m.Payload)
	next.RetryCount++
	return &next
}

// Created returns CreatedAt as a time.
func (m *Message) Created() time.Time {
	return FromUnixSeconds(m.CreatedAt)
}

// Encode returns the wire form of m.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Encode", "marshal message")
	}
	return data, nil
}

// Decode parses and validates a wire message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "task", "Decode", "unmarshal message")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromUnixSeconds is the inverse of UnixSeconds, to microsecond precision.
func FromUnixSeconds(s float64) time.Time {
	return time.UnixMicro(int64(s * 1e6))
}
