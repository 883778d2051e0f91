package handlers

import (
	"log/slog"

	"github.com/Rensir56/SegTool-for-Jade/broker"
	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/cache"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Deps are the collaborators shared by the handlers. A nil Segmenter leaves
// SEGMENT unsupported; a nil Detector leaves DETECT and BATCH unsupported;
// a nil PageSource leaves BATCH unsupported.
type Deps struct {
	Cache        *distcache.Cache
	Embeddings   *cache.EmbeddingCache
	Segmenter    Segmenter
	Detector     Detector
	Pages        PageSource
	Fingerprints fingerprint.Generator
	Logger       *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Register binds a handler, or an explicit unsupported mark, for every
// message type.
func Register(reg *broker.Registry, deps Deps) error {
	if deps.Cache == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "handlers", "Register", "require distributed cache")
	}

	var detect *DetectHandler
	if deps.Detector != nil {
		detect = NewDetectHandler(deps)
		if err := reg.Register(task.TypeDetect, detect); err != nil {
			return err
		}
	} else if err := reg.MarkUnsupported(task.TypeDetect); err != nil {
		return err
	}

	if deps.Segmenter != nil {
		seg, err := NewSegmentHandler(deps)
		if err != nil {
			return err
		}
		if err := reg.Register(task.TypeSegment, seg); err != nil {
			return err
		}
	} else if err := reg.MarkUnsupported(task.TypeSegment); err != nil {
		return err
	}

	if detect != nil && deps.Pages != nil {
		if err := reg.Register(task.TypeBatch, NewBatchHandler(deps, detect)); err != nil {
			return err
		}
	} else if err := reg.MarkUnsupported(task.TypeBatch); err != nil {
		return err
	}

	deps.logger().Info("Task handlers registered", "handled", reg.Names())
	return nil
}
