package task

import (
	"fmt"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// Type is the kind of work a message carries.
type Type string

// Message types.
const (
	TypeDetect  Type = "DETECT"
	TypeSegment Type = "SEGMENT"
	TypeBatch   Type = "BATCH"
)

// Types returns every message type in declaration order.
func Types() []Type {
	return []Type{TypeDetect, TypeSegment, TypeBatch}
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeDetect, TypeSegment, TypeBatch:
		return true
	}
	return false
}

// ParseType converts s into a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", errors.WrapInvalid(fmt.Errorf("unknown message type %q", s), "task", "ParseType", "parse type")
	}
	return t, nil
}

// Priority selects the broker topic a message is published to.
type Priority string

// Priorities, lowest first.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Priorities returns every priority, lowest first.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority converts s into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", errors.WrapInvalid(fmt.Errorf("unknown priority %q", s), "task", "ParsePriority", "parse priority")
	}
	return p, nil
}
