package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller what to do with an error: retry it, reject the
// input, or stop.
type ErrorClass int

const (
	// ErrorTransient errors may succeed on a later attempt.
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors are caused by the input and will fail again.
	ErrorInvalid
	// ErrorFatal errors leave the component unable to continue.
	ErrorFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinels shared across packages. Match with errors.Is.
var (
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")

	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	ErrInvalidData   = errors.New("invalid data format")
	ErrDataCorrupted = errors.New("data corrupted")
	ErrParsingFailed = errors.New("parsing failed")

	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrKeyNotFound        = errors.New("key not found")
	ErrKeyExists          = errors.New("key exists")

	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	ErrResourceExhausted = errors.New("resource exhausted")
	ErrRateLimited       = errors.New("rate limited")

	// Task dispatch
	ErrNoHandler          = errors.New("no handler registered")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrResourceBusy       = errors.New("resource busy")
)

// rule classifies unannotated errors by sentinel, then by message keyword.
// Rules are tried in order; the first match wins.
type rule struct {
	class     ErrorClass
	sentinels []error
	keywords  []string
}

var rules = []rule{
	{
		class: ErrorTransient,
		sentinels: []error{
			ErrConnectionTimeout, ErrConnectionLost, ErrNoConnection, ErrStorageUnavailable,
			ErrRateLimited, ErrCircuitOpen, ErrResourceBusy,
			context.DeadlineExceeded, context.Canceled,
		},
		keywords: []string{"timeout", "connection", "network", "temporary", "unavailable", "busy"},
	},
	{
		class:     ErrorFatal,
		sentinels: []error{ErrInvalidConfig, ErrMissingConfig, ErrResourceExhausted},
		keywords:  []string{"fatal", "panic", "invalid config", "missing config", "out of memory"},
	},
	{
		class:     ErrorInvalid,
		sentinels: []error{ErrInvalidData, ErrParsingFailed, ErrDataCorrupted, ErrNoHandler},
	},
}

// classOf reports the class of err and whether anything matched.
// An explicit ClassifiedError always wins over the rules.
func classOf(err error) (ErrorClass, bool) {
	if err == nil {
		return ErrorTransient, false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, r := range rules {
		for _, s := range r.sentinels {
			if errors.Is(err, s) {
				return r.class, true
			}
		}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(msg, k) {
				return r.class, true
			}
		}
	}
	return ErrorTransient, false
}

func is(err error, class ErrorClass) bool {
	c, ok := classOf(err)
	return ok && c == class
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return is(err, ErrorTransient) }

// IsFatal reports whether err should stop the component.
func IsFatal(err error) bool { return is(err, ErrorFatal) }

// IsInvalid reports whether err was caused by its input.
func IsInvalid(err error) bool { return is(err, ErrorInvalid) }

// Classify returns the class of err. Unrecognized errors are transient so
// the caller gets another chance.
func Classify(err error) ErrorClass {
	c, _ := classOf(err)
	return c
}

// Retryable reports whether a failed task should go through another
// attempt. Only invalid errors are excluded: the same input fails the same
// way.
func Retryable(err error) bool {
	return err != nil && Classify(err) != ErrorInvalid
}

// ClassifiedError carries a class and the component and operation that
// produced it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

func (ce *ClassifiedError) Unwrap() error { return ce.Err }

// Wrap adds context in the form "component.method: action failed: cause".
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapAs(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps err as transient.
func WrapTransient(err error, component, method, action string) error {
	return wrapAs(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps err as fatal.
func WrapFatal(err error, component, method, action string) error {
	return wrapAs(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps err as invalid.
func WrapInvalid(err error, component, method, action string) error {
	return wrapAs(ErrorInvalid, err, component, method, action)
}
