package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEGTOOL"

// durationKeys are the leaf keys whose string values are durations. Every
// value under a "ttl" map is a duration as well.
var durationKeys = map[string]bool{
	"reconnect_wait":      true,
	"timeout":             true,
	"retry_base":          true,
	"retry_cap":           true,
	"backpressure_delay":  true,
	"ack_wait":            true,
	"publish_timeout":     true,
	"stop_timeout":        true,
	"stream_max_age":      true,
	"dead_letter_max_age": true,
	"duplicate_window":    true,
	"cleanup_interval":    true,
}

// Loader layers configuration files over the defaults, then applies
// environment overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a file; later layers override earlier ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation after loading.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer and the environment.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}
	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a map with durations normalized to
// nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch formatOf(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	if err := parseDurations(raw, false); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations rewrites duration strings in place.
func parseDurations(m map[string]any, inTTL bool) error {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			if err := parseDurations(val, inTTL || k == "ttl"); err != nil {
				return err
			}
		case string:
			if !inTTL && !durationKeys[k] {
				continue
			}
			d, err := parseDurationWithDays(val)
			if err != nil {
				return fmt.Errorf("%s: invalid duration %q: %w", k, val, err)
			}
			m[k] = d.Nanoseconds()
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "7d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode merged config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides applies SEGTOOL_* variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		v, ok := l.lookupEnv(l.envPrefix + "_" + name)
		if !ok || v == "" {
			return nil
		}
		if err := validateEnvVar(l.envPrefix+"_"+name, v); err != nil {
			return err
		}
		*dst = v
		return nil
	}
	num := func(name string, dst *int) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = n
		return nil
	}
	dur := func(name string, dst *time.Duration) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = d
		return nil
	}
	boolean := func(name string, dst *bool) error {
		var s string
		if err := str(name, &s); err != nil || s == "" {
			return err
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", l.envPrefix, name, err)
		}
		*dst = b
		return nil
	}

	var urls string
	steps := []error{
		str("NATS_URLS", &urls),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		str("NATS_BUCKET", &cfg.NATS.Bucket),
		dur("NATS_METRICS_INTERVAL", &cfg.NATS.MetricsInterval),
		str("CONSUMER_GROUP", &cfg.Broker.ConsumerGroup),
		num("WORKERS", &cfg.Broker.Workers),
		num("QUEUE_SIZE", &cfg.Broker.QueueSize),
		num("MAX_RETRIES", &cfg.Broker.MaxRetries),
		dur("RETRY_BASE", &cfg.Broker.RetryBase),
		dur("RETRY_CAP", &cfg.Broker.RetryCap),
		boolean("FORWARD_UNHANDLED", &cfg.Broker.ForwardUnhandled),
		dur("CLEANUP_INTERVAL", &cfg.Cache.CleanupInterval),
		num("EMBEDDING_CACHE_ENTRIES", &cfg.Embeddings.MaxEntries),
		num("EMBEDDING_CACHE_MB", &cfg.Embeddings.MaxMemoryMB),
		str("INFERENCE_URL", &cfg.Inference.URL),
		dur("INFERENCE_TIMEOUT", &cfg.Inference.Timeout),
		str("PAGES_DIR", &cfg.Pages.Dir),
		num("OPS_PORT", &cfg.Ops.Port),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	if urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	return nil
}

func marshalFor(path string, cfg *Config) ([]byte, error) {
	if formatOf(path) == formatYAML {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}
