// Package inference talks to the model server that hosts the segmentation
// and detection models.
//
// Requests and responses are JSON by default; "cbor" halves the size of
// embedding payloads when the server supports it. Connection failures and
// 5xx responses are retried a few times; 4xx responses are not.
package inference

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/handlers"
	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
	"github.com/Rensir56/SegTool-for-Jade/pkg/retry"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
)

// Endpoint paths on the model server.
const (
	PathEmbed   = "/v1/embed"
	PathPredict = "/v1/predict"
	PathDetect  = "/v1/detect"
	PathHealth  = "/health"
)

// DefaultMaxResponseBytes bounds a response body.
const DefaultMaxResponseBytes = 256 << 20

// Config configures the client.
type Config struct {
	// BaseURL of the model server, e.g. http://gpu-0:8000.
	BaseURL string
	// Timeout bounds one HTTP round trip (default 60s).
	Timeout time.Duration
	// Encoding is "json" (default) or "cbor".
	Encoding string
	// Retry applies to connection errors and 5xx responses.
	Retry retry.Config
	// MaxResponseBytes caps the size of a decoded response.
	MaxResponseBytes int64
	// TLS for https base URLs (optional).
	TLS *tls.Config
	// Logger for request failures (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// StatusError is a non-2xx response.
type StatusError struct {
	Path   string
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s returned %d", e.Path, e.Code)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.Code, e.Detail)
}

// Client implements handlers.Segmenter and handlers.Detector over HTTP.
type Client struct {
	base       *url.URL
	http       *http.Client
	serializer codec.Serializer
	retry      retry.Config
	maxBody    int64
	logger     *slog.Logger
}

var (
	_ handlers.Segmenter = (*Client)(nil)
	_ handlers.Detector  = (*Client)(nil)
)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "inference", "New", "require base_url")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("bad base_url %q", cfg.BaseURL), "inference", "New", "parse base_url")
	}

	reg, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "json"
	}
	ser, err := reg.Lookup(encoding)
	if err != nil {
		return nil, errors.WrapInvalid(err, "inference", "New", "select encoding")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	rc := cfg.Retry
	if rc.MaxAttempts == 0 {
		rc = retry.Config{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2, AddJitter: true}
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hc := &http.Client{Timeout: timeout}
	if cfg.TLS != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = cfg.TLS
		hc.Transport = transport
	}

	return &Client{
		base:       base,
		http:       hc,
		serializer: ser,
		retry:      rc,
		maxBody:    maxBody,
		logger:     logger.With("component", "inference"),
	}, nil
}

type embedRequest struct {
	ImagePath string `json:"image_path" cbor:"image_path"`
}

type embedResponse struct {
	Embedding *tensor.Tensor `json:"embedding" cbor:"embedding"`
}

// Embed implements handlers.Segmenter.
func (c *Client) Embed(ctx context.Context, imagePath string) (*tensor.Tensor, error) {
	var resp embedResponse
	if err := c.call(ctx, PathEmbed, embedRequest{ImagePath: imagePath}, &resp); err != nil {
		return nil, err
	}
	if err := resp.Embedding.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "inference", "Embed", "validate embedding")
	}
	return resp.Embedding, nil
}

// Predict implements handlers.Segmenter.
func (c *Client) Predict(ctx context.Context, req handlers.SegmentRequest) (handlers.Prediction, error) {
	var resp handlers.Prediction
	if err := c.call(ctx, PathPredict, req, &resp); err != nil {
		return handlers.Prediction{}, err
	}
	if err := resp.Mask.Validate(); err != nil {
		return handlers.Prediction{}, errors.WrapInvalid(err, "inference", "Predict", "validate mask")
	}
	return resp, nil
}

type detectRequest struct {
	ImagePath string `json:"image_path" cbor:"image_path"`
	PageID    int    `json:"page_id" cbor:"page_id"`
}

// Detect implements handlers.Detector.
func (c *Client) Detect(ctx context.Context, imagePath string, pageID int) (handlers.DetectionResult, error) {
	var resp handlers.DetectionResult
	if err := c.call(ctx, PathDetect, detectRequest{ImagePath: imagePath, PageID: pageID}, &resp); err != nil {
		return handlers.DetectionResult{}, err
	}
	return resp, nil
}

// Ping checks the server health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(PathHealth), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "inference", "Ping", "reach model server")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return errors.WrapTransient(&StatusError{Path: PathHealth, Code: resp.StatusCode}, "inference", "Ping", "reach model server")
	}
	return nil
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	body, err := c.serializer.Marshal(in)
	if err != nil {
		return errors.WrapInvalid(err, "inference", "call", "encode "+path+" request")
	}

	err = retry.Do(ctx, c.retry, func() error {
		return c.roundTrip(ctx, path, body, out)
	})
	if err == nil {
		return nil
	}

	c.logger.Warn("Model server call failed", "path", path, "error", err)
	var se *StatusError
	if stderrors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests {
		return errors.WrapInvalid(err, "inference", "call", "call "+path)
	}
	return errors.WrapTransient(err, "inference", "call", "call "+path)
}

func (c *Client) roundTrip(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	req.Header.Set("Content-Type", c.serializer.ContentType())
	req.Header.Set("Accept", c.serializer.ContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > c.maxBody {
		return retry.NonRetryable(fmt.Errorf("%s response exceeds %d bytes", path, c.maxBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Path: path, Code: resp.StatusCode, Detail: strings.TrimSpace(string(data[:min(len(data), 512)]))}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return se
		}
		return retry.NonRetryable(se)
	}

	if err := c.serializer.Unmarshal(data, out); err != nil {
		return retry.NonRetryable(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
