package broker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rensir56/SegTool-for-Jade/errors"
	"github.com/Rensir56/SegTool-for-Jade/metric"
	"github.com/Rensir56/SegTool-for-Jade/pkg/retry"
	"github.com/Rensir56/SegTool-for-Jade/pkg/worker"
	"github.com/Rensir56/SegTool-for-Jade/task"
)

// Config tunes consumption and retries.
type Config struct {
	ConsumerGroup     string        // durable consumer name prefix
	Workers           int           // handler goroutines shared by all types
	QueueSize         int           // deliveries buffered ahead of the workers
	RetryBase         time.Duration // delay before the first retry
	RetryCap          time.Duration // upper bound on any retry delay
	BackpressureDelay time.Duration // redelivery delay when the pool is full
	AckWait           time.Duration // broker redelivery timeout, kept alive while held
	MaxAckPending     int           // un-acked deliveries per consumer
	PublishTimeout    time.Duration // bound on retry and dead-letter publishes
	StopTimeout       time.Duration // drain time used when Stop has no deadline
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConsumerGroup:     "segtool",
		Workers:           4,
		QueueSize:         64,
		RetryBase:         10 * time.Second,
		RetryCap:          300 * time.Second,
		BackpressureDelay: time.Second,
		AckWait:           60 * time.Second,
		MaxAckPending:     256,
		PublishTimeout:    10 * time.Second,
		StopTimeout:       30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = d.ConsumerGroup
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RetryBase <= 0 {
		c.RetryBase = d.RetryBase
	}
	if c.RetryCap < c.RetryBase {
		c.RetryCap = max(d.RetryCap, c.RetryBase)
	}
	if c.BackpressureDelay <= 0 {
		c.BackpressureDelay = d.BackpressureDelay
	}
	if c.AckWait <= 0 {
		c.AckWait = d.AckWait
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = d.MaxAckPending
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// StatusStore persists task records.
type StatusStore interface {
	SaveTaskRecord(ctx context.Context, rec task.Record) error
	TaskRecord(ctx context.Context, messageID string) (task.Record, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithStatusStore records message progress in store.
func WithStatusStore(store StatusStore) Option {
	return func(m *Manager) { m.store = store }
}

// WithMetrics records task counters in the core metrics.
func WithMetrics(core *metric.Metrics, registrar metric.MetricsRegistrar) Option {
	return func(m *Manager) {
		m.metrics = core
		m.registrar = registrar
	}
}

// WithScheduler replaces the timers driving retries.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

// Manager publishes task messages and runs handlers for consumed ones.
type Manager struct {
	transport Transport
	registry  *Registry
	cfg       Config
	backoff   retry.Config

	logger    *slog.Logger
	store     StatusStore
	metrics   *metric.Metrics
	registrar metric.MetricsRegistrar
	sched     Scheduler

	delays *DelayQueue
	pool   *worker.Pool[Delivery]

	mu        sync.Mutex
	started   bool
	stopped   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	consumers []func()

	sent         atomic.Int64
	consumed     atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	deadLettered atomic.Int64
	lastActivity atomic.Int64
}

// NewManager creates a Manager. Nothing touches the broker until Start,
// except Send.
func NewManager(transport Transport, registry *Registry, cfg Config, opts ...Option) (*Manager, error) {
	if transport == nil {
		return nil, errors.WrapInvalid(stderrors.New("transport is nil"), "Manager", "NewManager", "create manager")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	cfg = cfg.withDefaults()
	m := &Manager{
		transport: transport,
		registry:  registry,
		cfg:       cfg,
		backoff:   retry.TaskBackoff(cfg.RetryBase, cfg.RetryCap),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "broker")
	m.delays = NewDelayQueue(m.sched)

	poolOpts := []worker.Option[Delivery]{worker.WithLogger[Delivery](m.logger)}
	if m.registrar != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[Delivery](m.registrar, "tasks"))
	}
	m.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, m.process, poolOpts...)
	return m, nil
}

// RetryDelay returns the wait before retrying a message whose attempt
// number retryCount just failed.
func (m *Manager) RetryDelay(retryCount int) time.Duration {
	return m.backoff.Backoff(retryCount)
}

// Send validates msg and publishes it to its priority topic. Types this
// Manager does not consume are still published; another node owns them.
func (m *Manager) Send(ctx context.Context, msg *task.Message) error {
	if msg == nil {
		return errors.WrapInvalid(stderrors.New("message is nil"), "Manager", "Send", "send message")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := m.publish(ctx, msg); err != nil {
		return err
	}
	m.saveStatus(ctx, task.NewRecord(msg, task.StatusQueued))
	m.logger.Debug("Task sent",
		"message_id", msg.MessageID,
		"type", msg.MessageType,
		"priority", msg.Priority)
	return nil
}

func (m *Manager) publish(ctx context.Context, msg *task.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	subject := Subject(msg.Priority, msg.MessageType)
	if err := m.transport.Publish(ctx, subject, data, messageHeaders(msg), dedupID(msg)); err != nil {
		return errors.Wrap(err, "Manager", "publish", "publish "+msg.MessageID)
	}
	m.sent.Add(1)
	m.touch()
	if m.metrics != nil {
		m.metrics.RecordTaskPublished(string(msg.MessageType), string(msg.Priority))
	}
	return nil
}

// Start provisions the streams and begins consuming every handled type.
// Any failure is fatal and leaves the Manager stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Manager", "Start", "start manager")
	}
	if err := m.registry.Validate(); err != nil {
		return err
	}
	if err := m.transport.Provision(ctx); err != nil {
		return errors.WrapFatal(err, "Manager", "Start", "provision streams")
	}

	m.runCtx, m.cancel = context.WithCancel(context.Background())
	if err := m.pool.Start(m.runCtx); err != nil {
		m.cancel()
		return errors.WrapFatal(err, "Manager", "Start", "start worker pool")
	}

	for _, t := range m.registry.Handled() {
		spec := ConsumerSpec{
			Durable:       DurableName(m.cfg.ConsumerGroup, t),
			FilterSubject: TypeFilter(t),
			AckWait:       m.cfg.AckWait,
			MaxAckPending: m.cfg.MaxAckPending,
		}
		stop, err := m.transport.Subscribe(ctx, spec, m.onDelivery)
		if err != nil {
			m.stopConsumers()
			_ = m.pool.Stop(m.cfg.StopTimeout)
			m.cancel()
			return errors.WrapFatal(err, "Manager", "Start", "subscribe "+string(t))
		}
		m.consumers = append(m.consumers, stop)
		m.logger.Info("Consumer started", "type", t, "durable", spec.Durable, "filter", spec.FilterSubject)
	}

	m.started = true
	m.logger.Info("Broker manager started",
		"handlers", m.registry.Names(),
		"workers", m.cfg.Workers,
		"retry_base", m.cfg.RetryBase,
		"retry_cap", m.cfg.RetryCap)
	return nil
}

func (m *Manager) stopConsumers() {
	for _, stop := range m.consumers {
		stop()
	}
	m.consumers = nil
}

// Stop stops the consumers, drains the worker pool and cancels pending
// retries. Cancelled retries are nak'ed so the broker redelivers the
// original message. The drain is bounded by ctx's deadline when it has one.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.stopConsumers()
	m.mu.Unlock()

	timeout := m.cfg.StopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	poolErr := m.pool.Stop(timeout)
	cancelled := m.delays.Stop()
	m.cancel()

	m.logger.Info("Broker manager stopped", "cancelled_retries", cancelled)
	if poolErr != nil {
		return errors.Wrap(poolErr, "Manager", "Stop", "drain worker pool")
	}
	return nil
}

// TaskStatus returns the last recorded status of a message.
func (m *Manager) TaskStatus(ctx context.Context, messageID string) (task.Record, error) {
	if m.store == nil {
		return task.Record{}, errors.WrapInvalid(stderrors.New("no status store configured"), "Manager", "TaskStatus", "look up status")
	}
	return m.store.TaskRecord(ctx, messageID)
}

// Healthy reports whether the manager is running on a healthy transport.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	running := m.started && !m.stopped
	m.mu.Unlock()
	return running && m.transport.Healthy()
}

func (m *Manager) onDelivery(d Delivery) {
	m.touch()
	err := m.pool.Submit(d)
	if err == nil {
		return
	}
	if stderrors.Is(err, worker.ErrQueueFull) {
		m.logger.Debug("Worker pool full, deferring delivery", "subject", d.Subject())
	} else {
		m.logger.Warn("Delivery rejected", "subject", d.Subject(), "error", err)
	}
	if nakErr := d.NakWithDelay(m.cfg.BackpressureDelay); nakErr != nil {
		m.logger.Warn("Failed to nak delivery", "subject", d.Subject(), "error", nakErr)
	}
}

func (m *Manager) touch() {
	m.lastActivity.Store(time.Now().UnixNano())
}

func (m *Manager) saveStatus(ctx context.Context, rec task.Record) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveTaskRecord(ctx, rec); err != nil {
		m.logger.Warn("Failed to save task status",
			"message_id", rec.MessageID,
			"status", rec.Status,
			"error", err)
	}
}
