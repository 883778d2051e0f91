package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// DetectResult is the stored outcome of a DETECT message.
type DetectResult struct {
	PageID          int             `json:"page_id"`
	DetectionResult DetectionResult `json:"detection_result"`
	CacheHit        bool            `json:"cache_hit"`
	ProcessingTime  float64         `json:"processing_time"`
}

// DetectHandler runs object detection on a page image.
type DetectHandler struct {
	dist   *distcache.Cache
	model  Detector
	logger *slog.Logger
}

// NewDetectHandler creates a DetectHandler.
func NewDetectHandler(deps Deps) *DetectHandler {
	return &DetectHandler{
		dist:   deps.Cache,
		model:  deps.Detector,
		logger: deps.logger().With("handler", "detect"),
	}
}

// Handle implements broker.Handler.
func (h *DetectHandler) Handle(ctx context.Context, msg *task.Message) (any, error) {
	start := time.Now()
	p, err := task.DecodePayload[task.DetectPayload](msg)
	if err != nil {
		return nil, err
	}
	res, hit, err := h.detectPage(ctx, msg.UserID, p.ImagePath, p.Filename, p.PageID)
	if err != nil {
		return nil, err
	}
	return DetectResult{
		PageID:          p.PageID,
		DetectionResult: res,
		CacheHit:        hit,
		ProcessingTime:  time.Since(start).Seconds(),
	}, nil
}

// detectPage returns the detections of one page, from cache when possible.
// Only one worker detects a given page at a time; the others get a
// transient error and are retried later, by which time the result is
// usually cached. When the lock itself cannot be reached the page is
// detected without it.
func (h *DetectHandler) detectPage(ctx context.Context, userID, imagePath, filename string, page int) (DetectionResult, bool, error) {
	pageFP := fingerprint.PageIdentity(imagePath, strconv.Itoa(page))

	var cached DetectionResult
	if h.dist.GetDetection(ctx, pageFP, filename, &cached) {
		return cached, true, nil
	}

	locked, err := h.dist.AcquirePageLock(ctx, userID, filename, page)
	switch {
	case err != nil:
		h.logger.Warn("Page lock unavailable, detecting without it", "file", filename, "page", page, "error", err)
	case !locked:
		return DetectionResult{}, false, errors.WrapTransient(
			fmt.Errorf("%w: page %d of %s", errors.ErrResourceBusy, page, filename),
			"DetectHandler", "detectPage", "acquire page lock")
	default:
		defer func() {
			if err := h.dist.ReleasePageLock(context.WithoutCancel(ctx), userID, filename, page); err != nil {
				h.logger.Warn("Failed to release page lock", "file", filename, "page", page, "error", err)
			}
		}()
		// The previous holder may have finished between the lookup and the lock.
		if h.dist.GetDetection(ctx, pageFP, filename, &cached) {
			return cached, true, nil
		}
	}

	res, err := h.model.Detect(ctx, imagePath, page)
	if err != nil {
		return DetectionResult{}, false, errors.WrapTransient(err, "DetectHandler", "detectPage", "detect objects")
	}
	if res.ImagePath == "" {
		res.ImagePath = imagePath
	}
	res.PageID = page
	res.Filename = filename
	if res.DetectedAt.IsZero() {
		res.DetectedAt = time.Now().UTC()
	}
	h.dist.SetDetection(ctx, pageFP, filename, res)

	h.logger.Debug("Page detected", "file", filename, "page", page, "objects", len(res.Detections))
	return res, false, nil
}
