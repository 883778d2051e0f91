package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rensir56/SegTool-for-Jade/pkg/tlsutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.Broker.RetryBase)
	assert.Equal(t, 300*time.Second, cfg.Broker.RetryCap)
	assert.Equal(t, 3, cfg.Broker.MaxRetries)
	assert.Equal(t, 100*1024, cfg.Codec.CompressionThreshold)
	assert.Equal(t, 512*1024, cfg.Codec.MaxValueSize)
	assert.Equal(t, 64*1024, cfg.Codec.ChunkSize)
	assert.Equal(t, 20, cfg.Fingerprint.GridSize)
	assert.Equal(t, 10, cfg.Embeddings.MaxEntries)
	assert.Equal(t, 1024, cfg.Embeddings.MaxMemoryMB)
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Embedding)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.PageLock)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"no nats urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls"},
		{"zero workers", func(c *Config) { c.Broker.Workers = 0 }, "broker.workers"},
		{"unknown serializer", func(c *Config) { c.Codec.Serializer = "gob" }, "codec.serializer"},
		{"bad inference url", func(c *Config) { c.Inference.URL = "not a url" }, "inference.url"},
		{"zero ttl", func(c *Config) { c.Cache.TTL.Logit = 0 }, "cache.ttl.logit"},
		{"ops port out of range", func(c *Config) { c.Ops.Port = 70000 }, "ops.port"},
		{"embedding budget", func(c *Config) { c.Embeddings.MaxMemoryMB = 0 }, "embedding_cache.max_memory_mb"},
		{"cap below base", func(c *Config) { c.Broker.RetryCap = time.Second }, "retry_cap"},
		{"chunk above max", func(c *Config) { c.Codec.ChunkSize = 1 << 20 }, "codec.chunk_size"},
		{"consumer with dot", func(c *Config) { c.Broker.ConsumerGroup = "seg.tool" }, "consumer_group"},
		{"bucket with space", func(c *Config) { c.NATS.Bucket = "my bucket" }, "nats.bucket"},
		{"tls version", func(c *Config) { c.NATS.TLS.MinVersion = "1.0" }, "nats.tls.min_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesConsumerGroup(t *testing.T) {
	cfg := Default()
	cfg.Broker.ConsumerGroup = "SegTool"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "segtool", cfg.Broker.ConsumerGroup)
}

func TestLoaderMergesLayers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
nats:
  urls: ["nats://a:4222"]
broker:
  workers: 2
  retry_base: 5s
cache:
  ttl:
    logit: 10m
    session: 2d
`)
	override := writeFile(t, "override.json", `{
  "broker": {"workers": 8},
  "cache": {"ttl": {"logit": "15m"}}
}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 8, cfg.Broker.Workers)
	assert.Equal(t, 5*time.Second, cfg.Broker.RetryBase)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL.Logit)
	assert.Equal(t, 48*time.Hour, cfg.Cache.TTL.Session)
	// untouched keys keep their defaults
	assert.Equal(t, time.Hour, cfg.Cache.TTL.Embedding)
	assert.Equal(t, "segtool", cfg.Broker.ConsumerGroup)
	assert.Equal(t, 300*time.Second, cfg.Broker.RetryCap)
}

func TestLoaderEnvOverrides(t *testing.T) {
	l := newTestLoader(map[string]string{
		"SEGTOOL_NATS_URLS":             "nats://x:4222,nats://y:4222",
		"SEGTOOL_WORKERS":               "12",
		"SEGTOOL_RETRY_BASE":            "2s",
		"SEGTOOL_INFERENCE_URL":         "http://model:8000",
		"SEGTOOL_OPS_PORT":              "0",
		"SEGTOOL_FORWARD_UNHANDLED":     "true",
		"SEGTOOL_NATS_METRICS_INTERVAL": "1m",
	})
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 12, cfg.Broker.Workers)
	assert.Equal(t, 2*time.Second, cfg.Broker.RetryBase)
	assert.Equal(t, "http://model:8000", cfg.Inference.URL)
	assert.Equal(t, 0, cfg.Ops.Port)
	assert.True(t, cfg.Broker.ForwardUnhandled)
	assert.Equal(t, time.Minute, cfg.NATS.MetricsInterval)
}

func TestTTLConfigLongest(t *testing.T) {
	ttl := Default().Cache.TTL
	assert.Equal(t, 24*time.Hour, ttl.Longest())

	ttl.Detection = 72 * time.Hour
	assert.Equal(t, 72*time.Hour, ttl.Longest())
}

func TestLoaderRejectsBadInput(t *testing.T) {
	t.Run("bad env number", func(t *testing.T) {
		_, err := newTestLoader(map[string]string{"SEGTOOL_WORKERS": "many"}).Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SEGTOOL_WORKERS")
	})
	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "broker:\n  retry_base: soon\n")
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retry_base")
	})
	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "config.toml", "x = 1")
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
	})
	t.Run("deep json", func(t *testing.T) {
		doc := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
		path := writeFile(t, "deep.json", `{"x":`+doc+`}`)
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)
	})
	t.Run("validation failure", func(t *testing.T) {
		path := writeFile(t, "invalid.json", `{"broker": {"workers": 0}}`)
		_, err := newTestLoader(nil).LoadFile(path)
		require.Error(t, err)

		l := newTestLoader(nil)
		l.EnableValidation(false)
		cfg, err := l.LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.Broker.Workers)
	})
}

func TestSaveToFileRoundTrip(t *testing.T) {
	for _, name := range []string{"saved.json", "saved.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Broker.Workers = 7
			cfg.Cache.TTL.Detection = 90 * time.Minute
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, cfg.SaveToFile(path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := newTestLoader(nil).LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "secret"
	cfg.NATS.TLS = tlsutil.ClientConfig{Enabled: true, CAFiles: []string{"/etc/segtool/ca.pem"}, MinVersion: "1.3"}

	clone := cfg.Clone()
	if diff := cmp.Diff(cfg, clone); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}

	clone.NATS.URLs[0] = "nats://elsewhere:4222"
	clone.NATS.TLS.CAFiles[0] = "/tmp/other.pem"
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
	assert.Equal(t, "/etc/segtool/ca.pem", cfg.NATS.TLS.CAFiles[0])
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestSafeConfig(t *testing.T) {
	safe := NewSafeConfig(nil)
	assert.Equal(t, Default(), safe.Get())

	invalid := Default()
	invalid.Broker.Workers = 0
	require.Error(t, safe.Update(invalid))
	require.Error(t, safe.Update(nil))

	next := Default()
	next.Broker.Workers = 9
	require.NoError(t, safe.Update(next))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := safe.Get()
			got.NATS.URLs[0] = "mutated"
			assert.Equal(t, 9, got.Broker.Workers)
		}()
	}
	wg.Wait()
	assert.Equal(t, "nats://localhost:4222", safe.Get().NATS.URLs[0])
}

func TestValidateConfigPath(t *testing.T) {
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../outside.json"))
	assert.Error(t, validateConfigPath("config.ini"))
	assert.NoError(t, validateConfigPath("config.yml"))
	assert.NoError(t, validateConfigPath(filepath.Join(t.TempDir(), "c.json")))
}
