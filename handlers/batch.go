package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Batch status values.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchFailed     = "failed"
)

// PageResult is the detection outcome of one page in a batch.
type PageResult struct {
	Page     int             `json:"page_num"`
	Status   string          `json:"status"`
	Result   DetectionResult `json:"result"`
	CacheHit bool            `json:"cache_hit"`
}

// PageFailure records a page that could not be processed.
type PageFailure struct {
	Page   int    `json:"page_num"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// BatchResult is the stored outcome of a BATCH message.
type BatchResult struct {
	Filename       string        `json:"pdf_filename"`
	ProcessedPages int           `json:"processed_pages"`
	FailedPages    int           `json:"failed_pages"`
	PageResults    []PageResult  `json:"page_results"`
	Failures       []PageFailure `json:"failures"`
	ProcessingTime float64       `json:"processing_time"`
}

// BatchHandler detects every page in a range of a document.
type BatchHandler struct {
	dist   *distcache.Cache
	pages  PageSource
	detect *DetectHandler
	logger *slog.Logger
}

// NewBatchHandler creates a BatchHandler that shares detect's page path.
func NewBatchHandler(deps Deps, detect *DetectHandler) *BatchHandler {
	return &BatchHandler{
		dist:   deps.Cache,
		pages:  deps.Pages,
		detect: detect,
		logger: deps.logger().With("handler", "batch"),
	}
}

// Handle implements broker.Handler. A page failure is recorded and the
// batch continues; the message fails only when no page succeeded.
func (h *BatchHandler) Handle(ctx context.Context, msg *task.Message) (any, error) {
	start := time.Now()
	p, err := task.DecodePayload[task.BatchPayload](msg)
	if err != nil {
		return nil, err
	}

	h.updateStatus(ctx, msg.UserID, p.PDFFilename, func(s *distcache.BatchStatus) {
		s.MessageID = msg.MessageID
		s.Status = BatchProcessing
		s.StartPage = p.StartPage
		s.EndPage = p.EndPage
		s.ProcessedPages = nil
		s.FailedPages = nil
		s.Progress = 0
	})

	res := BatchResult{
		Filename:    p.PDFFilename,
		PageResults: []PageResult{},
		Failures:    []PageFailure{},
	}
	total := p.Pages()
	for page := p.StartPage; page <= p.EndPage; page++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.WrapTransient(err, "BatchHandler", "Handle", "process pages")
		}

		det, hit, err := h.processPage(ctx, msg.UserID, p.PDFFilename, page)
		outcome := distcache.PageOutcome{Page: page, Status: "success"}
		if err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			res.Failures = append(res.Failures, PageFailure{Page: page, Status: outcome.Status, Error: outcome.Error})
			h.logger.Warn("Batch page failed", "file", p.PDFFilename, "page", page, "error", err)
		} else {
			res.PageResults = append(res.PageResults, PageResult{Page: page, Status: outcome.Status, Result: det, CacheHit: hit})
		}

		done := len(res.PageResults) + len(res.Failures)
		h.updateStatus(ctx, msg.UserID, p.PDFFilename, func(s *distcache.BatchStatus) {
			if outcome.Error == "" {
				s.ProcessedPages = append(s.ProcessedPages, outcome)
			} else {
				s.FailedPages = append(s.FailedPages, outcome)
			}
			s.Progress = float64(done) / float64(total)
		})
	}

	res.ProcessedPages = len(res.PageResults)
	res.FailedPages = len(res.Failures)
	res.ProcessingTime = time.Since(start).Seconds()

	final := BatchCompleted
	if res.ProcessedPages == 0 {
		final = BatchFailed
	}
	h.updateStatus(ctx, msg.UserID, p.PDFFilename, func(s *distcache.BatchStatus) { s.Status = final })

	h.logger.Info("Batch finished",
		"file", p.PDFFilename,
		"processed", res.ProcessedPages,
		"failed", res.FailedPages,
		"duration", time.Since(start))

	if final == BatchFailed {
		return nil, errors.WrapTransient(fmt.Errorf("all %d pages failed", total), "BatchHandler", "Handle", "process pages")
	}
	return res, nil
}

func (h *BatchHandler) processPage(ctx context.Context, userID, filename string, page int) (DetectionResult, bool, error) {
	imagePath, err := h.pages.PageImage(ctx, filename, page)
	if err != nil {
		return DetectionResult{}, false, errors.Wrap(err, "BatchHandler", "processPage", "resolve page image")
	}
	return h.detect.detectPage(ctx, userID, imagePath, filename, page)
}

func (h *BatchHandler) updateStatus(ctx context.Context, userID, filename string, fn func(*distcache.BatchStatus)) {
	if err := h.dist.UpdateBatchStatus(ctx, userID, filename, fn); err != nil {
		h.logger.Warn("Failed to update batch status", "file", filename, "error", err)
	}
}
