package health

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// State is the coarse health of a component.
type State string

// States, ordered from best to worst.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) rank() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of one component, or of the node when it carries
// sub-statuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics summarizes dispatch activity next to a node status.
type Metrics struct {
	Uptime         time.Duration `json:"uptime"`
	Processed      int64         `json:"messages_processed"`
	Failed         int64         `json:"messages_failed"`
	DeadLettered   int64         `json:"messages_dead_lettered"`
	PendingRetries int           `json:"pending_retries"`
	LastActivity   *time.Time    `json:"last_activity,omitempty"`
}

func newStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with sub appended. The receiver's slice is
// never shared with the result.
func (s Status) WithSubStatus(sub Status) Status {
	s.SubStatuses = append(slices.Clip(slices.Clone(s.SubStatuses)), sub)
	return s
}

// Aggregate takes the worst state among subs. The message names the
// components at that state, e.g. "unhealthy: cache, nats".
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "no checks registered")
	}

	worst := StateHealthy
	for _, sub := range subs {
		if sub.Status.rank() > worst.rank() {
			worst = sub.Status
		}
	}

	var msg string
	if worst == StateHealthy {
		msg = fmt.Sprintf("all %d checks passing", len(subs))
	} else {
		var names []string
		for _, sub := range subs {
			if sub.Status.rank() == worst.rank() {
				names = append(names, sub.Component)
			}
		}
		slices.Sort(names)
		msg = fmt.Sprintf("%s: %s", worst, strings.Join(names, ", "))
	}

	st := newStatus(component, worst, msg)
	st.SubStatuses = slices.Clone(subs)
	return st
}

// FromCheck converts the outcome of a check into a Status. A failing
// critical check is unhealthy, a failing optional one degraded.
func FromCheck(name string, err error, critical bool) Status {
	if err == nil {
		return NewHealthy(name, "ok")
	}
	msg := sanitizeErrorMessage(err.Error())
	if critical {
		return NewUnhealthy(name, msg)
	}
	return NewDegraded(name, msg)
}

// Redaction rules applied in order. URLs go first since they contain
// paths, hosts and ports.
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)(password|passwd|token|secret|credential|api[_-]?key)[^a-zA-Z\s]*[:=][^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`), "[URL]"},
	{regexp.MustCompile(`/[A-Za-z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// sanitizeErrorMessage strips URLs, file paths, addresses and credentials
// from a check error before it is served on /health.
func sanitizeErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.repl)
	}
	return msg
}
