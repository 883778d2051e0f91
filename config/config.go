package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/Rensir56/SegTool-for-Jade/pkg/cache"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tlsutil"
)

// Config is the complete configuration of a dispatch node.
type Config struct {
	Service     ServiceConfig     `json:"service" yaml:"service"`
	NATS        NATSConfig        `json:"nats" yaml:"nats"`
	Broker      BrokerConfig      `json:"broker" yaml:"broker"`
	Cache       CacheConfig       `json:"cache" yaml:"cache"`
	Codec       CodecConfig       `json:"codec" yaml:"codec"`
	Embeddings  cache.Config      `json:"embedding_cache" yaml:"embedding_cache"`
	Fingerprint FingerprintConfig `json:"fingerprint" yaml:"fingerprint"`
	Inference   InferenceConfig   `json:"inference" yaml:"inference"`
	Pages       PagesConfig       `json:"pages" yaml:"pages"`
	Ops         OpsConfig         `json:"ops" yaml:"ops"`
}

// ServiceConfig identifies the node.
type ServiceConfig struct {
	Name string `json:"name" yaml:"name" validate:"required"`
}

// NATSConfig describes the broker connection and the KV bucket behind the cache.
type NATSConfig struct {
	URLs          []string      `json:"urls" yaml:"urls" validate:"min=1,dive,required"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int           `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Bucket        string        `json:"bucket" yaml:"bucket" validate:"required"`
	Replicas      int           `json:"replicas" yaml:"replicas" validate:"min=1,max=5"`
	// MetricsInterval is how often stream and consumer gauges are polled;
	// 0 disables polling.
	MetricsInterval time.Duration `json:"metrics_interval" yaml:"metrics_interval"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// BrokerConfig tunes the task streams and their consumers.
type BrokerConfig struct {
	ConsumerGroup     string        `json:"consumer_group" yaml:"consumer_group" validate:"required"`
	Workers           int           `json:"workers" yaml:"workers" validate:"min=1"`
	QueueSize         int           `json:"queue_size" yaml:"queue_size" validate:"min=1"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" validate:"min=0"`
	RetryBase         time.Duration `json:"retry_base" yaml:"retry_base" validate:"gt=0"`
	RetryCap          time.Duration `json:"retry_cap" yaml:"retry_cap" validate:"gt=0"`
	BackpressureDelay time.Duration `json:"backpressure_delay" yaml:"backpressure_delay"`
	AckWait           time.Duration `json:"ack_wait" yaml:"ack_wait" validate:"gt=0"`
	MaxAckPending     int           `json:"max_ack_pending" yaml:"max_ack_pending" validate:"min=1"`
	PublishTimeout    time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	StopTimeout       time.Duration `json:"stop_timeout" yaml:"stop_timeout"`
	StreamMaxAge      time.Duration `json:"stream_max_age" yaml:"stream_max_age"`
	DeadLetterMaxAge  time.Duration `json:"dead_letter_max_age" yaml:"dead_letter_max_age"`
	DuplicateWindow   time.Duration `json:"duplicate_window" yaml:"duplicate_window"`

	// ForwardUnhandled lets Submit publish types this node does not consume,
	// for deployments where another node runs their handlers.
	ForwardUnhandled bool `json:"forward_unhandled" yaml:"forward_unhandled"`
}

// CacheConfig holds the distributed cache expiries and maintenance settings.
type CacheConfig struct {
	TTL              TTLConfig     `json:"ttl" yaml:"ttl"`
	CleanupInterval  time.Duration `json:"cleanup_interval" yaml:"cleanup_interval" validate:"min=0"`
	FetchConcurrency int           `json:"fetch_concurrency" yaml:"fetch_concurrency" validate:"min=1,max=64"`
	CleanupRate      float64       `json:"cleanup_rate" yaml:"cleanup_rate" validate:"gt=0"`
	CleanupBurst     int           `json:"cleanup_burst" yaml:"cleanup_burst" validate:"min=1"`
}

// TTLConfig is the expiry of each artifact class.
type TTLConfig struct {
	Embedding time.Duration `json:"embedding" yaml:"embedding" validate:"gt=0"`
	Logit     time.Duration `json:"logit" yaml:"logit" validate:"gt=0"`
	Session   time.Duration `json:"session" yaml:"session" validate:"gt=0"`
	Detection time.Duration `json:"detection" yaml:"detection" validate:"gt=0"`
	Batch     time.Duration `json:"batch" yaml:"batch" validate:"gt=0"`
	PageLock  time.Duration `json:"page_lock" yaml:"page_lock" validate:"gt=0"`
	Task      time.Duration `json:"task" yaml:"task" validate:"gt=0"`
	Generic   time.Duration `json:"generic" yaml:"generic" validate:"gt=0"`
}

// Longest returns the largest class TTL. The cache bucket uses it as its
// MaxAge so that no entry outlives every class.
func (t TTLConfig) Longest() time.Duration {
	return max(t.Embedding, t.Logit, t.Session, t.Detection, t.Batch, t.PageLock, t.Task, t.Generic)
}

// CodecConfig controls artifact encoding.
type CodecConfig struct {
	Serializer           string `json:"serializer" yaml:"serializer" validate:"oneof=cbor json"`
	CompressionThreshold int    `json:"compression_threshold" yaml:"compression_threshold" validate:"min=0"`
	MaxValueSize         int    `json:"max_value_size" yaml:"max_value_size" validate:"min=1024"`
	ChunkSize            int    `json:"chunk_size" yaml:"chunk_size" validate:"min=1024"`
}

// FingerprintConfig sets the click quantization grid.
type FingerprintConfig struct {
	GridSize int `json:"grid_size" yaml:"grid_size" validate:"min=1"`
}

// InferenceConfig points at the model server. An empty URL disables the
// segment and detect handlers.
type InferenceConfig struct {
	URL         string        `json:"url" yaml:"url" validate:"omitempty,url"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" validate:"gt=0"`
	Encoding    string        `json:"encoding" yaml:"encoding" validate:"oneof=json cbor"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts" validate:"min=1,max=10"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// PagesConfig locates rendered document pages.
type PagesConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Command string `json:"command" yaml:"command"`
}

// OpsConfig configures the operations HTTP server. Port 0 disables it.
type OpsConfig struct {
	Port int    `json:"port" yaml:"port" validate:"min=0,max=65535"`
	Path string `json:"path" yaml:"path" validate:"required,startswith=/"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "segdispatch"},
		NATS: NATSConfig{
			URLs:            []string{"nats://localhost:4222"},
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			Timeout:         5 * time.Second,
			Bucket:          "SEGTOOL_CACHE",
			Replicas:        1,
			MetricsInterval: 30 * time.Second,
		},
		Broker: BrokerConfig{
			ConsumerGroup:     "segtool",
			Workers:           4,
			QueueSize:         64,
			MaxRetries:        3,
			RetryBase:         10 * time.Second,
			RetryCap:          300 * time.Second,
			BackpressureDelay: time.Second,
			AckWait:           60 * time.Second,
			MaxAckPending:     256,
			PublishTimeout:    10 * time.Second,
			StopTimeout:       30 * time.Second,
			StreamMaxAge:      24 * time.Hour,
			DeadLetterMaxAge:  7 * 24 * time.Hour,
			DuplicateWindow:   2 * time.Minute,
		},
		Cache: CacheConfig{
			TTL: TTLConfig{
				Embedding: time.Hour,
				Logit:     30 * time.Minute,
				Session:   24 * time.Hour,
				Detection: 2 * time.Hour,
				Batch:     24 * time.Hour,
				PageLock:  5 * time.Minute,
				Task:      24 * time.Hour,
				Generic:   time.Hour,
			},
			CleanupInterval:  time.Hour,
			FetchConcurrency: 8,
			CleanupRate:      200,
			CleanupBurst:     50,
		},
		Codec: CodecConfig{
			Serializer:           "cbor",
			CompressionThreshold: 100 * 1024,
			MaxValueSize:         512 * 1024,
			ChunkSize:            64 * 1024,
		},
		Embeddings:  cache.DefaultConfig(),
		Fingerprint: FingerprintConfig{GridSize: 20},
		Inference: InferenceConfig{
			Timeout:     60 * time.Second,
			Encoding:    "json",
			MaxAttempts: 3,
		},
		Pages: PagesConfig{Command: "pdftoppm"},
		Ops:   OpsConfig{Port: 9090, Path: "/metrics"},
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the relations between fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			return validationError(verrs)
		}
		return fmt.Errorf("config validation: %w", err)
	}

	c.Broker.ConsumerGroup = strings.ToLower(c.Broker.ConsumerGroup)
	if !isValidNATSSubjectPart(c.Broker.ConsumerGroup) || strings.Contains(c.Broker.ConsumerGroup, ".") {
		return fmt.Errorf("broker.consumer_group %q is not a valid consumer name (letters, digits, dashes, underscores)",
			c.Broker.ConsumerGroup)
	}
	if c.Broker.RetryCap < c.Broker.RetryBase {
		return fmt.Errorf("broker.retry_cap (%s) must not be below broker.retry_base (%s)",
			c.Broker.RetryCap, c.Broker.RetryBase)
	}
	if c.Codec.ChunkSize > c.Codec.MaxValueSize {
		return fmt.Errorf("codec.chunk_size (%d) must not exceed codec.max_value_size (%d)",
			c.Codec.ChunkSize, c.Codec.MaxValueSize)
	}
	if c.Codec.CompressionThreshold > c.Codec.MaxValueSize {
		return fmt.Errorf("codec.compression_threshold (%d) must not exceed codec.max_value_size (%d)",
			c.Codec.CompressionThreshold, c.Codec.MaxValueSize)
	}
	if !isValidNATSSubjectPart(c.NATS.Bucket) || strings.Contains(c.NATS.Bucket, ".") {
		return fmt.Errorf("nats.bucket %q is not a valid bucket name", c.NATS.Bucket)
	}
	return nil
}

// validationError flattens validator output into one message naming every
// failing field by its JSON path.
func validationError(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldPath(fe.Namespace())
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}

// fieldPath turns "Config.broker.retry_base" into "broker.retry_base".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		copied.NATS.URLs = append([]string(nil), c.NATS.URLs...)
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		copied.NATS.URLs = append([]string(nil), c.NATS.URLs...)
		return &copied
	}
	return &clone
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension.
func (c *Config) SaveToFile(path string) error {
	data, err := marshalFor(path, c)
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// SafeConfig provides thread-safe access to configuration.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg. A nil cfg holds the defaults.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
