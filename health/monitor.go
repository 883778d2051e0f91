package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	fn       CheckFunc
	critical bool
}

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]check
	timeout  time.Duration
	observer func(component string, healthy bool)
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithCheckTimeout bounds each check run by RunChecks (default 5s).
func WithCheckTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithObserver is called with every status recorded by RunChecks, e.g. to
// export it as a metric.
func WithObserver(fn func(component string, healthy bool)) MonitorOption {
	return func(m *Monitor) { m.observer = fn }
}

// NewMonitor creates a new health monitor
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]check),
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a check. Registering a name again replaces its check.
func (m *Monitor) Register(name string, fn CheckFunc, critical bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check{fn: fn, critical: critical}
}

// RunChecks runs every registered check concurrently, records the results
// and returns the aggregate over all monitored components.
func (m *Monitor) RunChecks(ctx context.Context, systemName string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	checks := make([]check, 0, len(m.checks))
	for name, c := range m.checks {
		names = append(names, name)
		checks = append(checks, c)
	}
	m.mu.RUnlock()

	results := make([]Status, len(checks))
	var g errgroup.Group
	for i := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			results[i] = FromCheck(names[i], checks[i].fn(cctx), checks[i].critical)
			return nil
		})
	}
	_ = g.Wait()

	for _, st := range results {
		m.Update(st.Component, st)
		if m.observer != nil {
			m.observer(st.Component, st.Healthy)
		}
	}
	return m.AggregateHealth(systemName)
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Ensure the status has the correct component name and timestamp
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// AggregateHealth returns an aggregated health status for the entire system
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	sort.Slice(subStatuses, func(i, j int) bool { return subStatuses[i].Component < subStatuses[j].Component })

	return Aggregate(systemName, subStatuses)
}

// ListComponents returns a list of all component names being monitored
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// Clear removes all components from monitoring
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[string]Status)
}
