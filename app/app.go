package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/Rensir56/SegTool-for-Jade/broker"
	"github.com/Rensir56/SegTool-for-Jade/config"
	"github.com/Rensir56/SegTool-for-Jade/distcache"
	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/handlers"
	"github.com/Rensir56/SegTool-for-Jade/health"
	"github.com/Rensir56/SegTool-for-Jade/inference"
	"github.com/Rensir56/SegTool-for-Jade/metric"
	"github.com/Rensir56/SegTool-for-Jade/natsclient"
	"github.com/Rensir56/SegTool-for-Jade/pkg/cache"
	"github.com/Rensir56/SegTool-for-Jade/pkg/codec"
	"github.com/Rensir56/SegTool-for-Jade/pkg/fingerprint"
	"github.com/Rensir56/SegTool-for-Jade/pkg/retry"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tensor"
	"github.com/Rensir56/SegTool-for-Jade/pkg/tlsutil"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

const (
	healthInterval = 30 * time.Second
	cleanupTimeout = 5 * time.Minute
)

// Deps overrides the collaborators New would otherwise build from config.
// When both Transport and Backend are set no NATS connection is made.
type Deps struct {
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
	NATS      *natsclient.Client // connected client; closed by its owner
	Transport broker.Transport
	Backend   distcache.Backend
	Segmenter handlers.Segmenter
	Detector  handlers.Detector
	Pages     handlers.PageSource
}

// App owns every long-lived component of a dispatch node.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	nats       *natsclient.Client
	ownsNATS   bool
	metrics    *metric.MetricsRegistry
	cache      *distcache.Cache
	embeddings *cache.EmbeddingCache
	broker     *broker.Manager
	registry   *broker.Registry
	monitor    *health.Monitor
	inference  *inference.Client
	ops        *metric.Server

	mu        sync.Mutex
	started   bool
	startedAt atomic.Int64 // unix nanos, 0 when stopped
	cancel    context.CancelFunc
	loops     sync.WaitGroup
}

// New validates cfg and builds the application. It connects to NATS and
// creates the cache bucket unless deps supply both ends.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "App", "New", "config is nil")
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "App", "New", "validate config")
	}

	a := &App{cfg: cfg, logger: deps.Logger, metrics: deps.Metrics, nats: deps.NATS}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = metric.NewMetricsRegistry()
	}

	ok := false
	defer func() {
		if !ok {
			a.closeNATS(context.WithoutCancel(ctx))
		}
	}()

	if a.nats == nil && (deps.Transport == nil || deps.Backend == nil) {
		if err := a.connect(ctx); err != nil {
			return nil, err
		}
	}

	backend := deps.Backend
	if backend == nil {
		b, err := a.openBucket(ctx)
		if err != nil {
			return nil, err
		}
		backend = b
	}
	if err := a.buildCaches(backend); err != nil {
		return nil, err
	}

	hdeps := handlers.Deps{
		Cache:        a.cache,
		Embeddings:   a.embeddings,
		Segmenter:    deps.Segmenter,
		Detector:     deps.Detector,
		Pages:        deps.Pages,
		Fingerprints: fingerprint.New(cfg.Fingerprint.GridSize),
		Logger:       a.logger,
	}
	if err := a.buildInference(&hdeps); err != nil {
		return nil, err
	}
	if hdeps.Pages == nil && cfg.Pages.Dir != "" {
		hdeps.Pages = handlers.PDFPages{Dir: cfg.Pages.Dir, Command: cfg.Pages.Command}
	}

	registry := broker.NewRegistry()
	if err := handlers.Register(registry, hdeps); err != nil {
		return nil, err
	}
	a.registry = registry

	transport := deps.Transport
	if transport == nil {
		transport = broker.NewNATSTransport(a.nats, broker.StreamConfig{
			Replicas:        cfg.NATS.Replicas,
			MaxAge:          cfg.Broker.StreamMaxAge,
			DeadLetterAge:   cfg.Broker.DeadLetterMaxAge,
			DuplicateWindow: cfg.Broker.DuplicateWindow,
		})
	}
	mgr, err := broker.NewManager(transport, registry, brokerConfig(cfg.Broker),
		broker.WithLogger(a.logger),
		broker.WithStatusStore(a.cache),
		broker.WithMetrics(a.metrics.CoreMetrics(), a.metrics),
	)
	if err != nil {
		return nil, err
	}
	a.broker = mgr

	a.buildMonitor()
	if cfg.Ops.Port != 0 {
		a.ops = metric.NewServer(cfg.Ops.Port, cfg.Ops.Path, a.metrics, a.routes)
	}

	ok = true
	return a, nil
}

func brokerConfig(c config.BrokerConfig) broker.Config {
	return broker.Config{
		ConsumerGroup:     c.ConsumerGroup,
		Workers:           c.Workers,
		QueueSize:         c.QueueSize,
		RetryBase:         c.RetryBase,
		RetryCap:          c.RetryCap,
		BackpressureDelay: c.BackpressureDelay,
		AckWait:           c.AckWait,
		MaxAckPending:     c.MaxAckPending,
		PublishTimeout:    c.PublishTimeout,
		StopTimeout:       c.StopTimeout,
	}
}

func (a *App) connect(ctx context.Context) error {
	n := a.cfg.NATS
	core := a.metrics.CoreMetrics()
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger),
		natsclient.WithName(a.cfg.Service.Name),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait),
		natsclient.WithTimeout(n.Timeout),
		natsclient.WithMetrics(a.metrics),
		natsclient.WithMetricsInterval(n.MetricsInterval),
		natsclient.WithHealthChangeCallback(core.RecordNATSStatus),
		natsclient.WithDisconnectCallback(a.onNATSDisconnect),
		natsclient.WithReconnectCallback(core.RecordNATSReconnect),
	}
	if n.Username != "" {
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.Token != "" {
		opts = append(opts, natsclient.WithToken(n.Token))
	}
	tlsCfg, err := tlsutil.LoadClientTLSConfig(n.TLS)
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsCfg))
	}

	client, err := natsclient.NewClient(strings.Join(n.URLs, ","), opts...)
	if err != nil {
		return errors.WrapFatal(err, "App", "connect", "create NATS client")
	}
	a.nats = client
	a.ownsNATS = true
	a.logger.Info("Connecting to NATS", "urls", n.URLs)
	if err := client.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "App", "connect", "connect to NATS")
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		return errors.WrapTransient(err, "App", "connect", "wait for NATS connection")
	}
	core.RecordNATSStatus(true)
	return nil
}

func (a *App) onNATSDisconnect(err error) {
	a.metrics.CoreMetrics().RecordNATSStatus(false)
	if err != nil {
		a.logger.Warn("NATS disconnected", "error", err)
		return
	}
	a.logger.Info("NATS disconnected")
}

// openBucket creates the cache bucket with per-key TTL support.
func (a *App) openBucket(ctx context.Context) (distcache.Backend, error) {
	kv, err := a.nats.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:         a.cfg.NATS.Bucket,
		Description:    "segtool artifact cache",
		History:        1,
		Replicas:       a.cfg.NATS.Replicas,
		TTL:            a.cfg.Cache.TTL.Longest(),
		LimitMarkerTTL: time.Second,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "App", "openBucket", "create cache bucket "+a.cfg.NATS.Bucket)
	}
	return distcache.NewNATSBackend(a.nats.NewKVStore(kv)), nil
}

func (a *App) buildCaches(backend distcache.Backend) error {
	cc := a.cfg.Codec
	ccfg := codec.DefaultConfig()
	ccfg.Serializer = cc.Serializer
	ccfg.CompressionThreshold = cc.CompressionThreshold
	ccfg.MaxValueSize = cc.MaxValueSize
	ccfg.ChunkSize = cc.ChunkSize
	cdc, err := codec.New(ccfg)
	if err != nil {
		return errors.WrapInvalid(err, "App", "buildCaches", "create codec")
	}

	ttl := a.cfg.Cache.TTL
	c, err := distcache.New(backend, cdc,
		distcache.WithLogger(a.logger),
		distcache.WithTTLs(distcache.TTLs{
			Embedding: ttl.Embedding,
			Logit:     ttl.Logit,
			Session:   ttl.Session,
			Detection: ttl.Detection,
			Batch:     ttl.Batch,
			PageLock:  ttl.PageLock,
			Task:      ttl.Task,
			Generic:   ttl.Generic,
		}),
		distcache.WithFetchConcurrency(a.cfg.Cache.FetchConcurrency),
		distcache.WithCleanupRate(rate.Limit(a.cfg.Cache.CleanupRate), a.cfg.Cache.CleanupBurst),
		distcache.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	a.cache = c

	emb, err := cache.NewFromConfig(a.cfg.Embeddings,
		cache.WithMetrics[*tensor.Tensor](a.metrics, "embedding"),
		cache.WithLogger[*tensor.Tensor](a.logger),
	)
	if err != nil {
		return err
	}
	a.embeddings = emb
	return nil
}

// buildInference fills the model collaborators from the configured model
// server when deps did not supply them.
func (a *App) buildInference(hdeps *handlers.Deps) error {
	ic := a.cfg.Inference
	if ic.URL == "" || (hdeps.Segmenter != nil && hdeps.Detector != nil) {
		return nil
	}
	tlsCfg, err := tlsutil.LoadClientTLSConfig(ic.TLS)
	if err != nil {
		return err
	}
	client, err := inference.New(inference.Config{
		BaseURL:  ic.URL,
		Timeout:  ic.Timeout,
		Encoding: ic.Encoding,
		Retry: retry.Config{
			MaxAttempts:  ic.MaxAttempts,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			AddJitter:    true,
		},
		TLS:    tlsCfg,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.inference = client
	if hdeps.Segmenter == nil {
		hdeps.Segmenter = client
	}
	if hdeps.Detector == nil {
		hdeps.Detector = client
	}
	return nil
}

func (a *App) buildMonitor() {
	core := a.metrics.CoreMetrics()
	a.monitor = health.NewMonitor(health.WithObserver(core.RecordHealthStatus))
	a.monitor.Register("broker", func(context.Context) error {
		if !a.broker.Healthy() {
			return errors.ErrNoConnection
		}
		return nil
	}, true)
	a.monitor.Register("cache", a.cache.Ping, true)
	if a.inference != nil {
		a.monitor.Register("model_server", a.inference.Ping, false)
	}
	if a.nats != nil {
		a.monitor.Register("nats", func(ctx context.Context) error {
			st := a.nats.GetStatus()
			core.RecordCircuitBreakerState(st.Status == natsclient.StatusCircuitOpen)
			if st.Status != natsclient.StatusConnected {
				return fmt.Errorf("connection %s", st.Status)
			}
			if rtt, err := a.nats.RTT(); err == nil {
				core.RecordNATSRTT(rtt)
			}
			if a.broker.Healthy() {
				if _, err := a.nats.GetStream(ctx, broker.TaskStream); err != nil {
					return fmt.Errorf("task stream: %w", err)
				}
			}
			return nil
		}, true)
	}
}

// Start provisions the task streams, starts consumers, the ops server and
// the maintenance loops.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "App", "Start", "start application")
	}

	if err := a.broker.Start(ctx); err != nil {
		return err
	}
	if a.ops != nil {
		if err := a.ops.Start(); err != nil {
			_ = a.broker.Stop(context.WithoutCancel(ctx))
			return err
		}
		a.logger.Info("Ops server listening", "address", a.ops.Address())
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	if a.cfg.Cache.CleanupInterval > 0 {
		a.loops.Add(1)
		go a.cleanupLoop(loopCtx, a.cfg.Cache.CleanupInterval)
	}
	a.loops.Add(1)
	go a.healthLoop(loopCtx, healthInterval)

	a.started = true
	a.startedAt.Store(time.Now().UnixNano())
	a.logger.Info("Dispatch node started",
		"service", a.cfg.Service.Name,
		"consumer_group", a.cfg.Broker.ConsumerGroup,
		"workers", a.cfg.Broker.Workers)
	return nil
}

// Stop drains the broker and releases every resource. It is safe to call
// on an App that never started.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.cancel != nil {
		a.cancel()
		a.loops.Wait()
		a.cancel = nil
	}
	if a.started {
		if err := a.broker.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
		if a.ops != nil {
			if err := a.ops.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.started = false
		a.startedAt.Store(0)
	}
	a.closeNATS(ctx)
	if len(errs) > 0 {
		return stderrors.Join(errs...)
	}
	a.logger.Info("Dispatch node stopped")
	return nil
}

func (a *App) closeNATS(ctx context.Context) {
	if !a.ownsNATS || a.nats == nil {
		return
	}
	if err := a.nats.Close(ctx); err != nil {
		a.logger.Warn("Closing NATS connection failed", "error", err)
	}
	a.ownsNATS = false
}

func (a *App) cleanupLoop(ctx context.Context, every time.Duration) {
	defer a.loops.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Cleanup(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("Cache cleanup failed", "error", err)
			}
		}
	}
}

func (a *App) healthLoop(ctx context.Context, every time.Duration) {
	defer a.loops.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.Health(ctx)
			if !st.IsHealthy() {
				a.logger.Warn("Health degraded", "status", st.Status, "message", st.Message)
			}
		}
	}
}

// Cleanup removes expired and orphaned cache entries.
func (a *App) Cleanup(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	start := time.Now()
	n, err := a.cache.CleanupExpired(ctx)
	if err != nil {
		return n, err
	}
	a.logger.Info("Cache cleanup finished", "removed", n, "duration", time.Since(start))
	return n, nil
}

// Health runs every check and returns the aggregate with dispatch
// counters attached.
func (a *App) Health(ctx context.Context) health.Status {
	st := a.monitor.RunChecks(ctx, a.cfg.Service.Name)

	bs := a.broker.Stats()
	m := &health.Metrics{
		Processed:      bs.MessagesConsumed,
		Failed:         bs.MessagesFailed,
		DeadLettered:   bs.MessagesDeadLettered,
		PendingRetries: bs.PendingRetries,
		LastActivity:   bs.LastActivity,
	}
	if ns := a.startedAt.Load(); ns != 0 {
		m.Uptime = time.Since(time.Unix(0, ns))
	}
	return st.WithMetrics(m)
}

// Submit creates a message with the configured retry allowance and
// publishes it. It returns the message id. Types this node does not consume
// are rejected unless the broker forwards unhandled types.
func (a *App) Submit(ctx context.Context, t task.Type, userID, projectID string, payload any, prio task.Priority) (string, error) {
	if a.registry.Unsupported(t) && !a.cfg.Broker.ForwardUnhandled {
		return "", errors.WrapInvalid(errors.ErrNoHandler, "App", "Submit", "no "+string(t)+" handler on this node")
	}
	msg, err := task.NewMessage(t, userID, projectID, payload, prio, task.WithMaxRetries(a.cfg.Broker.MaxRetries))
	if err != nil {
		return "", err
	}
	if err := a.broker.Send(ctx, msg); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// TaskStatus returns the last recorded status of a message.
func (a *App) TaskStatus(ctx context.Context, id string) (task.Record, error) {
	return a.broker.TaskStatus(ctx, id)
}

// Stats is a snapshot of broker and cache counters.
type Stats struct {
	Broker     broker.Stats           `json:"broker"`
	Cache      distcache.StatsSummary `json:"cache"`
	Embeddings cache.StatsSummary     `json:"embedding_cache"`
	NATS       string                 `json:"nats,omitempty"`
}

// Stats returns current counters.
func (a *App) Stats() Stats {
	s := Stats{
		Broker:     a.broker.Stats(),
		Cache:      a.cache.Stats(),
		Embeddings: a.embeddings.Stats(),
	}
	if a.nats != nil {
		s.NATS = a.nats.Status().String()
	}
	return s
}

// Broker exposes the task manager.
func (a *App) Broker() *broker.Manager { return a.broker }

// Cache exposes the distributed cache.
func (a *App) Cache() *distcache.Cache { return a.cache }

// Metrics exposes the metrics registry.
func (a *App) Metrics() *metric.MetricsRegistry { return a.metrics }
