package broker

import (
	"sync"
	"time"
)

// Timer is a cancellable scheduled call.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Tests swap in a manual scheduler.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DelayQueue holds retries until their backoff elapses.
type DelayQueue struct {
	sched Scheduler

	mu      sync.Mutex
	next    uint64
	pending map[uint64]*delayed
	stopped bool
}

type delayed struct {
	timer  Timer
	cancel func()
}

// NewDelayQueue returns a queue driven by sched, or by real timers when nil.
func NewDelayQueue(sched Scheduler) *DelayQueue {
	if sched == nil {
		sched = realScheduler{}
	}
	return &DelayQueue{sched: sched, pending: make(map[uint64]*delayed)}
}

// Schedule runs fire after d. If the queue is stopped first, cancel runs
// instead. Exactly one of the two is called. Schedule on a stopped queue
// calls cancel immediately and returns false.
func (q *DelayQueue) Schedule(d time.Duration, fire, cancel func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		cancel()
		return false
	}
	id := q.next
	q.next++
	item := &delayed{cancel: cancel}
	q.pending[id] = item
	// Holding the lock keeps the timer from firing before it is recorded.
	item.timer = q.sched.AfterFunc(d, func() {
		q.mu.Lock()
		_, ok := q.pending[id]
		delete(q.pending, id)
		q.mu.Unlock()
		if ok {
			fire()
		}
	})
	q.mu.Unlock()
	return true
}

// Pending returns the number of scheduled calls that have not run.
func (q *DelayQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop cancels every pending call and returns how many were cancelled.
func (q *DelayQueue) Stop() int {
	q.mu.Lock()
	q.stopped = true
	items := make([]*delayed, 0, len(q.pending))
	for id, item := range q.pending {
		item.timer.Stop()
		items = append(items, item)
		delete(q.pending, id)
	}
	q.mu.Unlock()

	for _, item := range items {
		item.cancel()
	}
	return len(items)
}
