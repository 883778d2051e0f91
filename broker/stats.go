package broker

import (
	"time"

	"github.com/Rensir56/SegTool-for-Jade/pkg/worker"
)

// Stats is a snapshot of manager activity.
type Stats struct {
	MessagesSent         int64            `json:"messages_sent"`
	MessagesConsumed     int64            `json:"messages_consumed"`
	MessagesFailed       int64            `json:"messages_failed"`
	MessagesRetried      int64            `json:"messages_retried"`
	MessagesDeadLettered int64            `json:"messages_dead_lettered"`
	LastActivity         *time.Time       `json:"last_activity,omitempty"`
	Topics               []string         `json:"topics"`
	RegisteredHandlers   []string         `json:"registered_handlers"`
	ActiveConsumers      int              `json:"active_consumers"`
	PendingRetries       int              `json:"pending_retries"`
	Pool                 worker.PoolStats `json:"pool"`
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	consumers := len(m.consumers)
	m.mu.Unlock()

	s := Stats{
		MessagesSent:         m.sent.Load(),
		MessagesConsumed:     m.consumed.Load(),
		MessagesFailed:       m.failed.Load(),
		MessagesRetried:      m.retried.Load(),
		MessagesDeadLettered: m.deadLettered.Load(),
		Topics:               Topics(),
		RegisteredHandlers:   m.registry.Names(),
		ActiveConsumers:      consumers,
		PendingRetries:       m.delays.Pending(),
		Pool:                 m.pool.Stats(),
	}
	if ns := m.lastActivity.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastActivity = &t
	}
	return s
}
