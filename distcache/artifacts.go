package distcache

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// GetEmbedding returns the cached image embedding of a file.
func (c *Cache) GetEmbedding(ctx context.Context, fileFP string) (*tensor.Tensor, bool) {
	var t tensor.Tensor
	if !c.Get(ctx, EmbeddingKey(fileFP), &t) {
		return nil, false
	}
	if err := t.Validate(); err != nil {
		c.logger.Warn("Discarding malformed embedding", "file", fileFP, "error", err)
		return nil, false
	}
	return &t, true
}

// SetEmbedding caches the image embedding of a file.
func (c *Cache) SetEmbedding(ctx context.Context, fileFP string, t *tensor.Tensor) {
	c.Set(ctx, EmbeddingKey(fileFP), t, c.ttls.Embedding)
}

// GetLogit returns cached mask logits for a click signature on a file.
func (c *Cache) GetLogit(ctx context.Context, fileFP, clickSignature string) (*tensor.Tensor, bool) {
	var t tensor.Tensor
	if !c.Get(ctx, LogitKey(fileFP, clickSignature), &t) {
		return nil, false
	}
	if err := t.Validate(); err != nil {
		c.logger.Warn("Discarding malformed logits", "file", fileFP, "error", err)
		return nil, false
	}
	return &t, true
}

// SetLogit caches mask logits for a click signature on a file.
func (c *Cache) SetLogit(ctx context.Context, fileFP, clickSignature string, t *tensor.Tensor) {
	c.Set(ctx, LogitKey(fileFP, clickSignature), t, c.ttls.Logit)
}

// Session is the per-user interaction state.
type Session struct {
	UserID       string            `cbor:"user_id" json:"user_id"`
	LastImage    string            `cbor:"last_processed_image,omitempty" json:"last_processed_image,omitempty"`
	LastActivity time.Time         `cbor:"last_processed_time" json:"last_processed_time"`
	TotalClicks  int               `cbor:"total_clicks" json:"total_clicks"`
	Fields       map[string]string `cbor:"fields,omitempty" json:"fields,omitempty"`
}

// GetSession returns the session of userID.
func (c *Cache) GetSession(ctx context.Context, userID string) (Session, bool) {
	var s Session
	found := c.Get(ctx, SessionKey(userID), &s)
	return s, found
}

// SetSession replaces the session of s.UserID.
func (c *Cache) SetSession(ctx context.Context, s Session) {
	c.Set(ctx, SessionKey(s.UserID), s, c.ttls.Session)
}

// UpdateSession applies fn to the session of userID, creating it if absent.
func (c *Cache) UpdateSession(ctx context.Context, userID string, fn func(*Session)) error {
	return updateValue(ctx, c, SessionKey(userID), c.ttls.Session, func(s *Session, _ bool) error {
		s.UserID = userID
		fn(s)
		return nil
	})
}

// UpdateSessionField sets one free-form field of a session.
func (c *Cache) UpdateSessionField(ctx context.Context, userID, field, value string) error {
	return c.UpdateSession(ctx, userID, func(s *Session) {
		if s.Fields == nil {
			s.Fields = make(map[string]string)
		}
		s.Fields[field] = value
	})
}

// GetDetection decodes the cached detection result of a page into v.
func (c *Cache) GetDetection(ctx context.Context, pageIdentity, filename string, v any) bool {
	return c.Get(ctx, DetectionKey(pageIdentity, filename), v)
}

// SetDetection caches the detection result of a page.
func (c *Cache) SetDetection(ctx context.Context, pageIdentity, filename string, v any) {
	c.Set(ctx, DetectionKey(pageIdentity, filename), v, c.ttls.Detection)
}

// PageOutcome records what happened to one page of a batch.
type PageOutcome struct {
	Page   int    `cbor:"page_num" json:"page_num"`
	Status string `cbor:"status" json:"status"`
	Error  string `cbor:"error,omitempty" json:"error,omitempty"`
}

// BatchStatus is the progress of a batch over one document.
type BatchStatus struct {
	Filename       string        `cbor:"filename" json:"filename"`
	MessageID      string        `cbor:"message_id,omitempty" json:"message_id,omitempty"`
	Status         string        `cbor:"status" json:"status"`
	StartPage      int           `cbor:"start_page" json:"start_page"`
	EndPage        int           `cbor:"end_page" json:"end_page"`
	ProcessedPages []PageOutcome `cbor:"processed_pages" json:"processed_pages"`
	FailedPages    []PageOutcome `cbor:"failed_pages" json:"failed_pages"`
	Progress       float64       `cbor:"progress" json:"progress"`
	UpdatedAt      time.Time     `cbor:"updated_at" json:"updated_at"`
}

// GetBatchStatus returns the batch progress of userID over filename.
func (c *Cache) GetBatchStatus(ctx context.Context, userID, filename string) (BatchStatus, bool) {
	var s BatchStatus
	found := c.Get(ctx, BatchKey(userID, filename), &s)
	return s, found
}

// UpdateBatchStatus applies fn to the batch progress, creating it if absent.
func (c *Cache) UpdateBatchStatus(ctx context.Context, userID, filename string, fn func(*BatchStatus)) error {
	return updateValue(ctx, c, BatchKey(userID, filename), c.ttls.Batch, func(s *BatchStatus, _ bool) error {
		s.Filename = filename
		fn(s)
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// AcquirePageLock takes the processing lock of a page. It reports false
// when another worker holds it. The lock expires on its own after the page
// lock TTL.
func (c *Cache) AcquirePageLock(ctx context.Context, userID, filename string, page int) (bool, error) {
	ok, err := c.Create(ctx, PageLockKey(userID, filename, page), "locked", c.ttls.PageLock)
	if err != nil {
		c.recordError("lock")
		return false, err
	}
	if !ok {
		c.logger.Debug("Page lock held elsewhere", "user", userID, "file", filename, "page", page)
	}
	return ok, nil
}

// ReleasePageLock drops the processing lock of a page.
func (c *Cache) ReleasePageLock(ctx context.Context, userID, filename string, page int) error {
	return c.backend.Delete(ctx, PageLockKey(userID, filename, page).String())
}

// SaveTaskRecord stores the status record of a message.
func (c *Cache) SaveTaskRecord(ctx context.Context, rec task.Record) error {
	return c.Store(ctx, TaskKey(rec.MessageID), rec, c.ttls.Task)
}

// TaskRecord returns the status record of a message, or ErrNotFound.
func (c *Cache) TaskRecord(ctx context.Context, messageID string) (task.Record, error) {
	var rec task.Record
	found, err := c.Load(ctx, TaskKey(messageID), &rec)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, fmt.Errorf("task %s: %w", messageID, ErrNotFound)
	}
	return rec, nil
}

// GetGeneric decodes a caller-named value into v.
func (c *Cache) GetGeneric(ctx context.Context, name string, v any) bool {
	return c.Get(ctx, GenericKey(name), v)
}

// SetGeneric stores a caller-named value. A ttl of zero uses the generic
// default.
func (c *Cache) SetGeneric(ctx context.Context, name string, v any, ttl time.Duration) {
	c.Set(ctx, GenericKey(name), v, ttl)
}

// DeleteGeneric removes a caller-named value.
func (c *Cache) DeleteGeneric(ctx context.Context, name string) error {
	return c.Delete(ctx, GenericKey(name))
}

// ClearUser removes the session, batch progress and page locks of userID and
// returns the number of keys deleted.
func (c *Cache) ClearUser(ctx context.Context, userID string) (int, error) {
	session := SessionKey(userID).String()
	scopes := []struct {
		prefix string
		match  func(string) bool
	}{
		{session, func(k string) bool { return k == session || strings.HasPrefix(k, session+":") }},
		{NewKey(NamespaceYOLO, ClassBatch, userID).String() + ":", nil},
		{NewKey(NamespaceYOLO, ClassLock, userID).String() + ":", nil},
	}

	removed := 0
	var errs []error
	for _, scope := range scopes {
		keys, err := c.backend.Keys(ctx, scope.prefix)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, k := range keys {
			if scope.match != nil && !scope.match(k) {
				continue
			}
			if err := c.backend.Delete(ctx, k); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("Cleared user cache", "user", userID, "keys", removed)
	}
	return removed, stderrors.Join(errs...)
}
