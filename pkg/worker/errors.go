package worker

import "errors"

// Lifecycle errors.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrNilProcessor       = errors.New("worker: nil processor")
	ErrStopTimeout        = errors.New("worker: workers still busy at stop deadline")
)

// ErrQueueFull is returned by Submit when every queue slot is taken. The
// broker treats it as backpressure and re-offers the delivery later.
var ErrQueueFull = errors.New("worker: queue full")

// ErrProcessorPanic wraps a value recovered from a panicking processor.
var ErrProcessorPanic = errors.New("worker: processor panicked")
