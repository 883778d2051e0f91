package handlers

import (
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/cache"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// SegmentResult is the stored outcome of a SEGMENT message.
type SegmentResult struct {
	Shape             []int          `json:"shape"`
	Mask              *tensor.Tensor `json:"mask"`
	Score             float64        `json:"score"`
	ProcessingTime    float64        `json:"processing_time"`
	CacheHit          bool           `json:"cache_hit"`
	EmbeddingCacheHit bool           `json:"embedding_cache_hit"`
	LogitCacheHit     bool           `json:"logit_cache_hit"`
	ClickSignature    string         `json:"click_signature"`
}

// SegmentHandler predicts a mask from clicks on an image.
type SegmentHandler struct {
	dist   *distcache.Cache
	local  *cache.EmbeddingCache
	model  Segmenter
	fp     fingerprint.Generator
	logger *slog.Logger

	embeds singleflight.Group
}

// NewSegmentHandler creates a SegmentHandler. Without a local embedding
// cache only the distributed cache is consulted.
func NewSegmentHandler(deps Deps) (*SegmentHandler, error) {
	if deps.Segmenter == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "SegmentHandler", "New", "require segmenter")
	}
	return &SegmentHandler{
		dist:   deps.Cache,
		local:  deps.Embeddings,
		model:  deps.Segmenter,
		fp:     deps.Fingerprints,
		logger: deps.logger().With("handler", "segment"),
	}, nil
}

// Handle implements broker.Handler.
func (h *SegmentHandler) Handle(ctx context.Context, msg *task.Message) (any, error) {
	start := time.Now()
	p, err := task.DecodePayload[task.SegmentPayload](msg)
	if err != nil {
		return nil, err
	}

	fileFP, err := fingerprint.FileIdentity(p.ImagePath)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapInvalid(err, "SegmentHandler", "Handle", "fingerprint image")
		}
		return nil, errors.WrapTransient(err, "SegmentHandler", "Handle", "fingerprint image")
	}

	emb, embHit, err := h.embedding(ctx, p.ImagePath, fileFP)
	if err != nil {
		return nil, err
	}

	sig := h.fp.Full(p.Clicks)
	var maskInput *tensor.Tensor
	logitHit := false
	if len(p.Clicks) > 1 {
		maskInput, logitHit = h.dist.GetLogit(ctx, fileFP, sig)
	}

	pred, err := h.model.Predict(ctx, SegmentRequest{
		ImagePath: p.ImagePath,
		Embedding: emb,
		Clicks:    p.Clicks,
		MaskInput: maskInput,
		MultiMask: len(p.Clicks) == 1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "SegmentHandler", "Handle", "predict mask")
	}
	if pred.Mask == nil {
		return nil, errors.WrapTransient(stderrors.New("prediction has no mask"), "SegmentHandler", "Handle", "predict mask")
	}
	if pred.Logit != nil {
		h.dist.SetLogit(ctx, fileFP, sig, pred.Logit)
	}

	if msg.UserID != "" {
		err := h.dist.UpdateSession(ctx, msg.UserID, func(s *distcache.Session) {
			s.LastImage = p.ImagePath
			s.LastActivity = time.Now().UTC()
			s.TotalClicks += len(p.Clicks)
		})
		if err != nil {
			h.logger.Warn("Failed to update session", "user", msg.UserID, "error", err)
		}
	}

	res := SegmentResult{
		Shape:             pred.Mask.Shape,
		Mask:              pred.Mask,
		Score:             pred.Score,
		ProcessingTime:    time.Since(start).Seconds(),
		CacheHit:          embHit || logitHit,
		EmbeddingCacheHit: embHit,
		LogitCacheHit:     logitHit,
		ClickSignature:    sig,
	}
	h.logger.Debug("Segmentation done",
		"message_id", msg.MessageID,
		"clicks", len(p.Clicks),
		"embedding_cache_hit", embHit,
		"logit_cache_hit", logitHit,
		"duration", time.Since(start))
	return res, nil
}

// embedding looks in the local cache, then the distributed cache, then
// computes. Concurrent misses for the same file share one computation.
func (h *SegmentHandler) embedding(ctx context.Context, imagePath, fileFP string) (*tensor.Tensor, bool, error) {
	if h.local != nil {
		if t, ok := h.local.Get(fileFP); ok {
			return t, true, nil
		}
	}
	if t, ok := h.dist.GetEmbedding(ctx, fileFP); ok {
		h.keepLocal(fileFP, imagePath, t)
		return t, true, nil
	}

	v, err, _ := h.embeds.Do(fileFP, func() (any, error) {
		t, err := h.model.Embed(ctx, imagePath)
		if err != nil {
			return nil, errors.WrapTransient(err, "SegmentHandler", "embedding", "compute embedding")
		}
		if err := t.Validate(); err != nil {
			return nil, errors.WrapTransient(err, "SegmentHandler", "embedding", "validate embedding")
		}
		h.keepLocal(fileFP, imagePath, t)
		h.dist.SetEmbedding(ctx, fileFP, t)
		return t, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*tensor.Tensor), false, nil
}

func (h *SegmentHandler) keepLocal(fileFP, imagePath string, t *tensor.Tensor) {
	if h.local == nil {
		return
	}
	err := h.local.Put(fileFP, t, map[string]string{
		"image_path": imagePath,
		"bytes":      strconv.FormatInt(t.ByteSize(), 10),
	})
	if err != nil {
		h.logger.Warn("Embedding not kept in local cache", "file", fileFP, "error", err)
	}
}
