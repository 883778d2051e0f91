package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by the process.
const Namespace = "segtool"

// Metrics holds the process-wide task and connectivity metrics.
type Metrics struct {
	TasksPublished     *prometheus.CounterVec
	TasksConsumed      *prometheus.CounterVec
	TasksFailed        *prometheus.CounterVec
	TasksRetried       *prometheus.CounterVec
	TasksDeadLettered  *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	PendingRetries     prometheus.Gauge
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core metrics without registering them.
func NewMetrics() *Metrics {
	taskCounter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "tasks",
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		TasksPublished:    taskCounter("published_total", "Tasks published to the broker", "type", "priority"),
		TasksConsumed:     taskCounter("consumed_total", "Tasks handled successfully", "type"),
		TasksFailed:       taskCounter("failed_total", "Handler failures, including ones later retried", "type"),
		TasksRetried:      taskCounter("retried_total", "Tasks re-published for another attempt", "type"),
		TasksDeadLettered: taskCounter("dead_lettered_total", "Tasks routed to the dead-letter stream", "type", "reason"),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "tasks",
			Name:      "processing_duration_seconds",
			Help:      "Handler execution time",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type", "outcome"}),

		PendingRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "tasks",
			Name:      "pending_retries",
			Help:      "Retries waiting for their backoff to elapse",
		}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),
		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "rtt_milliseconds",
			Help:      "NATS round-trip time in milliseconds",
		}),
		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),
		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.TasksPublished, c.TasksConsumed, c.TasksFailed, c.TasksRetried, c.TasksDeadLettered,
		c.ProcessingDuration, c.PendingRetries, c.HealthCheckStatus,
		c.NATSConnected, c.NATSRTT, c.NATSReconnects, c.NATSCircuitBreaker,
	}
}

// RecordTaskPublished counts a publish on the priority topic.
func (c *Metrics) RecordTaskPublished(taskType, priority string) {
	c.TasksPublished.WithLabelValues(taskType, priority).Inc()
}

// RecordTaskOutcome counts a handler run and observes its duration.
func (c *Metrics) RecordTaskOutcome(taskType string, ok bool, d time.Duration) {
	outcome := "success"
	if ok {
		c.TasksConsumed.WithLabelValues(taskType).Inc()
	} else {
		outcome = "failure"
		c.TasksFailed.WithLabelValues(taskType).Inc()
	}
	c.ProcessingDuration.WithLabelValues(taskType, outcome).Observe(d.Seconds())
}

// RecordTaskRetried counts a scheduled retry.
func (c *Metrics) RecordTaskRetried(taskType string) {
	c.TasksRetried.WithLabelValues(taskType).Inc()
}

// RecordTaskDeadLettered counts a dead-letter publish.
func (c *Metrics) RecordTaskDeadLettered(taskType, reason string) {
	c.TasksDeadLettered.WithLabelValues(taskType, reason).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	c.HealthCheckStatus.WithLabelValues(component).Set(boolGauge(healthy))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolGauge(connected))
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	c.NATSCircuitBreaker.Set(boolGauge(open))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
