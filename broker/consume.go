package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// process runs on a pool worker. Every path ends in exactly one of: ack,
// nak, or a scheduled retry that acks or naks later.
func (m *Manager) process(ctx context.Context, d Delivery) error {
	release := m.keepAlive(d)

	msg, err := task.Decode(d.Data())
	if err != nil {
		release()
		m.logger.Error("Undecodable task message", "subject", d.Subject(), "error", err)
		m.deadLetter(ctx, d, nil, "decode: "+err.Error())
		return err
	}
	log := m.logger.With("message_id", msg.MessageID, "type", msg.MessageType, "retry_count", msg.RetryCount)

	if t, ok := subjectType(d.Subject()); ok && t != msg.MessageType {
		release()
		log.Warn("Message type does not match subject, skipping", "subject", d.Subject())
		m.ack(d, msg)
		return nil
	}

	h, ok := m.registry.Handler(msg.MessageType)
	if !ok {
		release()
		log.Error("No handler for message type")
		m.deadLetter(ctx, d, msg, errors.ErrNoHandler.Error())
		return errors.ErrNoHandler
	}

	m.saveStatus(ctx, task.NewRecord(msg, task.StatusProcessing))
	start := time.Now()
	result, herr := invoke(ctx, h, msg)
	elapsed := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordTaskOutcome(string(msg.MessageType), herr == nil, elapsed)
	}

	if herr == nil {
		release()
		m.complete(ctx, d, msg, result)
		log.Info("Task completed", "duration", elapsed)
		return nil
	}

	m.failed.Add(1)
	log.Warn("Task failed", "duration", elapsed, "error", herr)
	m.fail(ctx, d, msg, herr, release)
	return herr
}

func invoke(ctx context.Context, h Handler, msg *task.Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg)
}

func (m *Manager) complete(ctx context.Context, d Delivery, msg *task.Message, result any) {
	rec := task.NewRecord(msg, task.StatusCompleted)
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			m.logger.Warn("Task result is not JSON-encodable", "message_id", msg.MessageID, "error", err)
		} else {
			rec.Result = raw
		}
	}
	m.consumed.Add(1)
	m.saveStatus(ctx, rec)
	m.ack(d, msg)
}

// fail retries msg or dead-letters it. Invalid-class errors are
// deterministic and go straight to the dead-letter stream.
func (m *Manager) fail(ctx context.Context, d Delivery, msg *task.Message, herr error, release func()) {
	if !msg.CanRetry() || !errors.Retryable(herr) {
		release()
		m.deadLetter(ctx, d, msg, herr.Error())
		return
	}

	delay := m.RetryDelay(msg.RetryCount)
	next := msg.NextAttempt()
	rec := task.NewRecord(next, task.StatusRetrying)
	rec.Error = herr.Error()
	m.saveStatus(ctx, rec)

	if m.metrics != nil {
		m.metrics.PendingRetries.Inc()
	}
	done := func() {
		if m.metrics != nil {
			m.metrics.PendingRetries.Dec()
		}
	}
	m.delays.Schedule(delay,
		func() {
			done()
			m.republish(d, next, release)
		},
		func() {
			done()
			release()
			if err := d.Nak(); err != nil {
				m.logger.Warn("Failed to nak cancelled retry", "message_id", msg.MessageID, "error", err)
			}
		})
	m.logger.Info("Task retry scheduled",
		"message_id", msg.MessageID,
		"type", msg.MessageType,
		"retry_count", next.RetryCount,
		"max_retries", next.MaxRetries,
		"delay", delay)
}

// republish sends the next attempt and acks the original once it is safely
// on the broker. A failed publish naks the original so the attempt repeats.
func (m *Manager) republish(d Delivery, next *task.Message, release func()) {
	defer release()
	ctx, cancel := context.WithTimeout(m.runCtx, m.cfg.PublishTimeout)
	defer cancel()

	if err := m.publish(ctx, next); err != nil {
		m.logger.Error("Retry publish failed, original will be redelivered",
			"message_id", next.MessageID,
			"retry_count", next.RetryCount,
			"error", err)
		if nakErr := d.NakWithDelay(m.cfg.BackpressureDelay); nakErr != nil {
			m.logger.Warn("Failed to nak delivery", "message_id", next.MessageID, "error", nakErr)
		}
		return
	}
	m.retried.Add(1)
	if m.metrics != nil {
		m.metrics.RecordTaskRetried(string(next.MessageType))
	}
	m.ack(d, next)
}

// deadLetter publishes the original body to the dead-letter stream, then
// acks. msg is nil when the body could not be decoded.
func (m *Manager) deadLetter(ctx context.Context, d Delivery, msg *task.Message, reason string) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()

	id := d.Headers().Get(HeaderMessageID)
	taskType := "unknown"
	if msg != nil {
		id = msg.MessageID
		taskType = string(msg.MessageType)
	}
	dedup := ""
	if id != "" {
		dedup = deadLetterID(id)
	}

	headers := deadLetterHeaders(d.Headers(), msg, reason, time.Now())
	if err := m.transport.Publish(ctx, DeadLetterSubject, d.Data(), headers, dedup); err != nil {
		m.logger.Error("Dead-letter publish failed, delivery will be retried",
			"message_id", id,
			"error", err)
		if nakErr := d.NakWithDelay(m.cfg.BackpressureDelay); nakErr != nil {
			m.logger.Warn("Failed to nak delivery", "message_id", id, "error", nakErr)
		}
		return
	}

	m.deadLettered.Add(1)
	m.touch()
	if m.metrics != nil {
		m.metrics.RecordTaskDeadLettered(taskType, deadLetterReasonLabel(msg, reason))
	}
	if msg != nil {
		rec := task.NewRecord(msg, task.StatusFailed)
		rec.Error = reason
		m.saveStatus(ctx, rec)
	}
	m.logger.Warn("Task dead-lettered", "message_id", id, "type", taskType, "reason", reason)
	m.ack(d, msg)
}

// deadLetterReasonLabel keeps the metric label set small.
func deadLetterReasonLabel(msg *task.Message, reason string) string {
	switch {
	case msg == nil:
		return "undecodable"
	case reason == errors.ErrNoHandler.Error():
		return "no_handler"
	case !msg.CanRetry():
		return "max_retries"
	default:
		return "invalid"
	}
}

func (m *Manager) ack(d Delivery, msg *task.Message) {
	if err := d.Ack(); err != nil {
		id := ""
		if msg != nil {
			id = msg.MessageID
		}
		m.logger.Warn("Failed to ack delivery", "message_id", id, "error", err)
	}
}

// keepAlive extends the ack deadline of d until the returned func is
// called. The func is idempotent.
func (m *Manager) keepAlive(d Delivery) func() {
	interval := m.cfg.AckWait / 2
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := d.InProgress(); err != nil {
					m.logger.Debug("Failed to extend ack deadline", "subject", d.Subject(), "error", err)
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}
