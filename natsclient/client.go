// Package natsclient manages the NATS connection used for task transport and
// the distributed cache, guarded by a circuit breaker.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Rensir56/SegTool-for-Jade/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error values returned before any network call is made.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Status is a snapshot of the connection state.
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	url    string
	logger *slog.Logger

	status   atomic.Value // ConnectionStatus
	failures atomic.Int32

	conn *nats.Conn
	js   jetstream.JetStream

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	// circuit breaker
	lastFailure      atomic.Value // time.Time
	backoff          atomic.Value // time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username string
	password string
	token    string
	tls      *tls.Config

	clientName string

	jsMetrics       *jetstreamMetrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a client for url. Nothing is dialed until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		metricsInterval:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string { return c.url }

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	if v, ok := c.status.Load().(ConnectionStatus); ok {
		return v
	}
	return StatusDisconnected
}

func (c *Client) setStatus(s ConnectionStatus) { c.status.Store(s) }

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool { return c.Status() == StatusConnected }

// Failures returns the failure count since the last success.
func (c *Client) Failures() int32 { return c.failures.Load() }

// Backoff returns the current circuit breaker backoff.
func (c *Client) Backoff() time.Duration { return c.backoff.Load().(time.Duration) }

// GetConnection returns the underlying connection, which may be nil.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// recordFailure counts a failed operation and opens the circuit once the
// threshold is reached. While open, repeated rounds double the backoff.
func (c *Client) recordFailure() {
	c.failures.Add(1)
	c.lastFailure.Store(time.Now())

	if c.circuitFailures.Add(1) < c.circuitThreshold {
		return
	}
	c.circuitFailures.Store(0)

	current := c.Backoff()
	c.backoff.Store(min(current*2, c.maxBackoff))

	prev := c.Status()
	if prev == StatusCircuitOpen {
		c.logger.Warn("circuit breaker still open", "backoff", c.Backoff())
		return
	}
	if c.status.CompareAndSwap(prev, StatusCircuitOpen) {
		c.logger.Warn("circuit breaker opened", "threshold", c.circuitThreshold, "retry_in", current)
		time.AfterFunc(current, c.halfOpen)
	}
}

// halfOpen lets the next operation through after the backoff elapsed.
func (c *Client) halfOpen() {
	if c.Status() != StatusCircuitOpen {
		return
	}
	conn := c.GetConnection()
	if conn != nil && conn.IsConnected() {
		c.setStatus(StatusConnected)
	} else {
		c.setStatus(StatusDisconnected)
	}
	c.logger.Debug("circuit breaker half-open", "status", c.Status().String())
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// WaitForConnection blocks until the client is connected or ctx ends.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tls != nil {
		opts = append(opts, nats.Secure(c.tls))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// GetStatus returns a snapshot of the connection state.
func (c *Client) GetStatus() *Status {
	s := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}
	if rtt, err := c.RTT(); err == nil {
		s.RTT = rtt
	}
	return s
}

// Connect dials the server and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("connecting to NATS", "url", c.url)

	type result struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			done <- result{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- result{err: err}
			return
		}
		done <- result{conn: conn, js: js}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		c.recordFailure()
		if c.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	c.mu.Lock()
	c.conn = res.conn
	c.js = res.js
	c.mu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}
	if c.jsMetrics != nil && c.metricsInterval > 0 {
		c.metricsCancel = c.jsMetrics.startPoller(context.Background(), c.metricsInterval)
	}
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

// Close stops consumers, drains the connection and clears credentials.
// It is safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Swap(true) {
		return nil
	}

	c.stopHealthMonitoring()
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.consumersMu.Lock()
	for name, cc := range c.consumers {
		cc.Stop()
		c.logger.Debug("stopped consumer", "consumer", name)
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var drainErr error
	if c.conn != nil {
		timeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		conn := c.conn
		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		case <-time.After(timeout):
			drainErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain")
		}
		conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.username, c.password, c.token = "", "", ""
	c.setStatus(StatusDisconnected)
	return drainErr
}

// RTT returns the round-trip time to the server.
func (c *Client) RTT() (time.Duration, error) {
	conn := c.GetConnection()
	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// ready checks the breaker and connection before a JetStream call.
func (c *Client) ready() (jetstream.JetStream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	switch c.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}
	return c.JetStream()
}

// observe feeds the outcome of a server call into the breaker. Errors that
// describe application state rather than connectivity do not count.
func (c *Client) observe(err error, op string) {
	if err == nil || isApplicationError(err) {
		c.resetCircuit()
		return
	}
	c.recordFailure()
	c.jsMetrics.recordError(op)
}

func isApplicationError(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted) ||
		stderrors.Is(err, jetstream.ErrStreamNotFound) ||
		stderrors.Is(err, jetstream.ErrBucketNotFound) ||
		IsKVConflictError(err)
}

// EnsureStream creates the stream or updates it to cfg.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	c.observe(err, "ensure_stream")
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create or update stream "+cfg.Name)
	}
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// GetStream returns an existing stream.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	stream, err := js.Stream(ctx, name)
	c.observe(err, "get_stream")
	if err != nil {
		return nil, err
	}
	c.jsMetrics.trackStream(name, stream)
	return stream, nil
}

// PublishMsg publishes msg to JetStream and waits for the server ack.
func (c *Client) PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}
	ack, err := js.PublishMsg(ctx, msg, opts...)
	c.observe(err, "publish")
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "PublishMsg", "publish to "+msg.Subject)
	}
	return ack, nil
}

// Consume attaches a durable pull consumer to stream and delivers every
// message to handler. The handler owns acknowledgement. The returned func
// stops the consumer.
func (c *Client) Consume(
	ctx context.Context,
	stream string,
	cfg jetstream.ConsumerConfig,
	handler func(jetstream.Msg),
	opts ...jetstream.PullConsumeOpt,
) (func(), error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	c.observe(err, "create_consumer")
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Consume", "create consumer "+cfg.Durable)
	}

	cc, err := consumer.Consume(handler, opts...)
	if err != nil {
		c.observe(err, "consume")
		return nil, errors.WrapTransient(err, "Client", "Consume", "start consumer "+cfg.Durable)
	}

	name := cfg.Durable
	if name == "" {
		name = cfg.Name
	}
	key := stream + ":" + name
	c.jsMetrics.trackConsumer(key, consumer)

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.closed.Load() {
		cc.Stop()
		return nil, ErrClosed
	}
	if c.consumers == nil {
		c.consumers = make(map[string]jetstream.ConsumeContext)
	}
	if prev, ok := c.consumers[key]; ok {
		prev.Stop()
	}
	c.consumers[key] = cc

	return func() {
		c.consumersMu.Lock()
		defer c.consumersMu.Unlock()
		if cur, ok := c.consumers[key]; ok && cur == cc {
			delete(c.consumers, key)
		}
		cc.Stop()
	}, nil
}

// CreateKeyValueBucket returns the named bucket, creating it when missing.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.ready()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
	}
	c.observe(err, "create_kv")
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	c.logger.Info("KV bucket ready", "bucket", cfg.Bucket)
	return bucket, nil
}

// OnHealthChange sets a callback for health transitions.
func (c *Client) OnHealthChange(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealthChange = fn
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("NATS disconnected", "error", err)

	c.mu.RLock()
	onDisconnect, onHealth := c.onDisconnect, c.onHealthChange
	c.mu.RUnlock()
	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealth != nil {
		go onHealth(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("NATS reconnected")

	c.mu.RLock()
	onReconnect, onHealth := c.onReconnect, c.onHealthChange
	c.mu.RUnlock()
	if onReconnect != nil {
		go onReconnect()
	}
	if onHealth != nil {
		go onHealth(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
	c.mu.RLock()
	onHealth := c.onHealthChange
	c.mu.RUnlock()
	if onHealth != nil {
		go onHealth(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	c.logger.Error("NATS async error", "subject", subject, "error", err)
}

func (c *Client) startHealthMonitoring() {
	c.stopHealthMonitoring()

	c.mu.Lock()
	done := make(chan struct{})
	c.healthDone = done
	interval := c.healthInterval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := c.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			conn := c.GetConnection()
			if conn == nil {
				continue
			}
			healthy := conn.IsConnected()
			if _, err := conn.RTT(); err != nil {
				healthy = false
			}

			switch status := c.Status(); {
			case healthy && status != StatusConnected && status != StatusCircuitOpen:
				c.setStatus(StatusConnected)
			case !healthy && status == StatusConnected:
				c.setStatus(StatusReconnecting)
			}

			c.mu.RLock()
			onHealth := c.onHealthChange
			c.mu.RUnlock()
			if healthy != lastHealthy && onHealth != nil {
				onHealth(healthy)
			}
			lastHealthy = healthy
		}
	}()
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "already in use") || strings.Contains(s, "already exists")
}
