package wiring

import (
	"errors"
	"fmt"
)

// ErrSkip is returned by a bound handler to signal "no output" without an
// error. The output wire is not invoked and no error handler runs.
var ErrSkip = errors.New("wiring: skip output")

var (
	// ErrFlushingDisabled is returned by Flush on schedulers built without
	// WithFlushing.
	ErrFlushingDisabled = errors.New("flushing is not enabled for this scheduler")

	// ErrSquelchingDisabled is returned by the squelch controls on
	// schedulers built without WithSquelching.
	ErrSquelchingDisabled = errors.New("squelching is not enabled for this scheduler")

	// ErrNotRunning is returned when an operation needs a started scheduler.
	ErrNotRunning = errors.New("scheduler is not running")
)

// ConfigErrorCode categorises build-time configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeEmptyName indicates a scheduler or wire without a name.
	ErrCodeEmptyName ConfigErrorCode = "EMPTY_NAME"

	// ErrCodeInvalidName indicates a name with characters outside [A-Za-z0-9_].
	ErrCodeInvalidName ConfigErrorCode = "INVALID_NAME"

	// ErrCodeDuplicateName indicates two schedulers with the same name.
	ErrCodeDuplicateName ConfigErrorCode = "DUPLICATE_NAME"

	// ErrCodeNegativeSleep indicates a negative backpressure sleep duration.
	ErrCodeNegativeSleep ConfigErrorCode = "NEGATIVE_SLEEP"

	// ErrCodeInvalidCapacity indicates a negative unhandled task capacity.
	ErrCodeInvalidCapacity ConfigErrorCode = "INVALID_CAPACITY"

	// ErrCodeInvalidType indicates an unknown scheduler type.
	ErrCodeInvalidType ConfigErrorCode = "INVALID_TYPE"

	// ErrCodeUnboundInput indicates an input wire without a handler.
	ErrCodeUnboundInput ConfigErrorCode = "UNBOUND_INPUT"

	// ErrCodeAlreadyBound indicates an input wire bound twice.
	ErrCodeAlreadyBound ConfigErrorCode = "ALREADY_BOUND"

	// ErrCodeCyclicBackpressure indicates a cycle of blocking edges.
	ErrCodeCyclicBackpressure ConfigErrorCode = "CYCLIC_BACKPRESSURE"

	// ErrCodeAlreadyStarted indicates Start was called twice or after
	// a build operation that requires a stopped model.
	ErrCodeAlreadyStarted ConfigErrorCode = "ALREADY_STARTED"

	// ErrCodeInvalidHeartbeat indicates a non-positive heartbeat rate.
	ErrCodeInvalidHeartbeat ConfigErrorCode = "INVALID_HEARTBEAT"
)

// ConfigError is a fatal build-time error. A model with configuration errors
// refuses to start.
type ConfigError struct {
	Code      ConfigErrorCode
	Scheduler string
	Message   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Scheduler != "" {
		return fmt.Sprintf("%s: %s (scheduler=%s)", e.Code, e.Message, e.Scheduler)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newConfigError(code ConfigErrorCode, scheduler, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Scheduler: scheduler, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// HasConfigErrorCode reports whether any ConfigError in err's tree carries
// the code. Validation joins every problem it finds, so the first
// ConfigError is not necessarily the one asked about.
func HasConfigErrorCode(err error, code ConfigErrorCode) bool {
	switch e := err.(type) {
	case nil:
		return false
	case *ConfigError:
		return e.Code == code
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			if HasConfigErrorCode(inner, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return HasConfigErrorCode(e.Unwrap(), code)
	}
	return false
}

// TaskError wraps a failure raised by a bound handler, including recovered
// panics.
type TaskError struct {
	Scheduler string
	Err       error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("scheduler %s: task failed: %v", e.Scheduler, e.Err)
}

// Unwrap returns the handler error.
func (e *TaskError) Unwrap() error {
	return e.Err
}
