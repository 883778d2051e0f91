package handlers

import (
	"context"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

// SegmentRequest is one mask prediction.
type SegmentRequest struct {
	ImagePath string              `json:"image_path"`
	Embedding *tensor.Tensor      `json:"embedding"`
	Clicks    []fingerprint.Point `json:"clicks"`
	// MaskInput carries cached logits from an earlier prediction, if any.
	MaskInput *tensor.Tensor `json:"mask_input,omitempty"`
	// MultiMask asks for several candidates and keeps the best; used for
	// the first click on an image.
	MultiMask bool `json:"multimask_output"`
}

// Prediction is the model's answer to a SegmentRequest.
type Prediction struct {
	Mask  *tensor.Tensor `json:"mask"`
	Score float64        `json:"score"`
	Logit *tensor.Tensor `json:"logit,omitempty"`
}

// Segmenter computes image embeddings and predicts masks from them.
type Segmenter interface {
	Embed(ctx context.Context, imagePath string) (*tensor.Tensor, error)
	Predict(ctx context.Context, req SegmentRequest) (Prediction, error)
}

// Detection is one detected object.
type Detection struct {
	BBox       [4]float64 `json:"bbox" cbor:"bbox"`
	Confidence float64    `json:"confidence" cbor:"confidence"`
	Class      string     `json:"class" cbor:"class"`
	ClassID    int        `json:"class_id" cbor:"class_id"`
}

// DetectionResult is the detector output for one page image.
type DetectionResult struct {
	Detections []Detection `json:"detections" cbor:"detections"`
	ImagePath  string      `json:"image_path" cbor:"image_path"`
	PageID     int         `json:"page_id" cbor:"page_id"`
	Filename   string      `json:"filename" cbor:"filename"`
	DetectedAt time.Time   `json:"detection_time" cbor:"detection_time"`
}

// Detector finds objects on a page image.
type Detector interface {
	Detect(ctx context.Context, imagePath string, pageID int) (DetectionResult, error)
}

// PageSource resolves a page of a document to a rendered image path.
type PageSource interface {
	PageImage(ctx context.Context, filename string, page int) (string, error)
}
