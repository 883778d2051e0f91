package task

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a message.
type Status string

// Statuses. Completed and Failed are terminal.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the externally visible progress of one message.
type Record struct {
	MessageID   string          `json:"message_id" cbor:"message_id"`
	MessageType Type            `json:"message_type" cbor:"message_type"`
	UserID      string          `json:"user_id,omitempty" cbor:"user_id,omitempty"`
	Status      Status          `json:"status" cbor:"status"`
	RetryCount  int             `json:"retry_count" cbor:"retry_count"`
	Result      json.RawMessage `json:"result,omitempty" cbor:"result,omitempty"`
	Error       string          `json:"error,omitempty" cbor:"error,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at" cbor:"updated_at"`
}

// NewRecord returns the record of m in state s.
func NewRecord(m *Message, s Status) Record {
	return Record{
		MessageID:   m.MessageID,
		MessageType: m.MessageType,
		UserID:      m.UserID,
		Status:      s,
		RetryCount:  m.RetryCount,
		UpdatedAt:   time.Now().UTC(),
	}
}
