package task

import (
	"encoding/json"
	"fmt"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
)

// Payload is implemented by the typed message payloads.
type Payload interface {
	Validate() error
}

// DetectPayload asks for object detection on one page image.
type DetectPayload struct {
	ImagePath string `json:"image_path"`
	PageID    int    `json:"page_id"`
	Filename  string `json:"filename"`
}

// Validate implements Payload.
func (p DetectPayload) Validate() error {
	switch {
	case p.ImagePath == "":
		return invalidPayload("DetectPayload", "image_path is required")
	case p.Filename == "":
		return invalidPayload("DetectPayload", "filename is required")
	case p.PageID < 0:
		return invalidPayload("DetectPayload", "page_id is negative")
	}
	return nil
}

// SegmentPayload asks for a mask from interaction points on an image.
type SegmentPayload struct {
	ImagePath string              `json:"image_path"`
	Clicks    []fingerprint.Point `json:"clicks"`
}

// Validate implements Payload.
func (p SegmentPayload) Validate() error {
	switch {
	case p.ImagePath == "":
		return invalidPayload("SegmentPayload", "image_path is required")
	case len(p.Clicks) == 0:
		return invalidPayload("SegmentPayload", "at least one click is required")
	}
	return nil
}

// BatchPayload asks for detection over an inclusive page range of a document.
type BatchPayload struct {
	PDFFilename string `json:"pdf_filename"`
	StartPage   int    `json:"start_page"`
	EndPage     int    `json:"end_page"`
}

// Validate implements Payload.
func (p BatchPayload) Validate() error {
	switch {
	case p.PDFFilename == "":
		return invalidPayload("BatchPayload", "pdf_filename is required")
	case p.StartPage < 0:
		return invalidPayload("BatchPayload", "start_page is negative")
	case p.EndPage < p.StartPage:
		return invalidPayload("BatchPayload", fmt.Sprintf("end_page %d before start_page %d", p.EndPage, p.StartPage))
	}
	return nil
}

// Pages returns the number of pages in the range.
func (p BatchPayload) Pages() int {
	return p.EndPage - p.StartPage + 1
}

// DecodePayload unmarshals and validates the payload of m.
func DecodePayload[T Payload](m *Message) (T, error) {
	var p T
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		return p, errors.WrapInvalid(err, "task", "DecodePayload", fmt.Sprintf("decode %s payload", m.MessageType))
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func invalidPayload(kind, problem string) error {
	return errors.WrapInvalid(fmt.Errorf("%s", problem), kind, "Validate", "validate payload")
}
