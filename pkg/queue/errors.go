package queue

import (
	"errors"
	"fmt"
)

// Kind classifies queue errors into the four failure families every
// provider operation reports.
type Kind string

const (
	// KindConfiguration classifies invalid setup (bad URL, missing queue,
	// unsupported operation). Never retryable.
	KindConfiguration Kind = "configuration"
	// KindRuntime classifies transient backend or processing failures.
	// Retryable is set per case.
	KindRuntime Kind = "runtime"
	// KindData classifies malformed, duplicate, or oversized payloads.
	// Never retryable.
	KindData Kind = "data"
	// KindNotFound classifies missing jobs, queues, or leases. Never
	// retryable.
	KindNotFound Kind = "not_found"
)

// Common error codes shared across providers.
const (
	CodeInvalidConfig   = "invalid_config"
	CodeNotConnected    = "not_connected"
	CodeConnectionLost  = "connection_lost"
	CodeNotSupported    = "not_supported"
	CodeDuplicateJob    = "duplicate_job"
	CodePayloadTooLarge = "payload_too_large"
	CodeInvalidJob      = "invalid_job"
	CodeUnknownLease    = "unknown_lease"
	CodeQueueNotFound   = "queue_not_found"
	CodeJobNotFound     = "job_not_found"
	CodeBackendFailure  = "backend_failure"
	CodeClosed          = "closed"
)

// Error is the value returned by every fallible queue operation. It carries
// enough structure for callers to branch on Kind, Code, and Retryable
// without string matching.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	JobID     string
	Queue     string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("queue %s error [%s]: %s", e.Kind, e.Code, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithJob returns a copy annotated with the job identifier.
func (e *Error) WithJob(jobID string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.JobID = jobID
	return &clone
}

// WithQueue returns a copy annotated with the queue name.
func (e *Error) WithQueue(queue string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Queue = queue
	return &clone
}

// NewConfigurationError builds a non-retryable setup error.
func NewConfigurationError(code, message string, cause error) *Error {
	return &Error{Kind: KindConfiguration, Code: code, Message: message, Cause: cause}
}

// NewRuntimeError builds a transient failure; retryable is decided per case.
func NewRuntimeError(code, message string, retryable bool, cause error) *Error {
	return &Error{Kind: KindRuntime, Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// NewDataError builds a non-retryable payload error.
func NewDataError(code, message string, cause error) *Error {
	return &Error{Kind: KindData, Code: code, Message: message, Cause: cause}
}

// NewNotFoundError builds a non-retryable missing-resource error.
func NewNotFoundError(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// AsError extracts a *Error from any error chain. The second return is
// false when the chain carries no queue error.
func AsError(err error) (*Error, bool) {
	var qerr *Error
	if errors.As(err, &qerr) {
		return qerr, true
	}
	return nil, false
}

// IsRetryable reports whether retrying the failed operation may succeed.
// Unknown (non-queue) errors are treated as retryable so transport
// hiccups keep the caller's backoff loop alive.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qerr, ok := AsError(err); ok {
		return qerr.Retryable
	}
	return true
}

// IsKind reports whether the error chain carries a queue error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	qerr, ok := AsError(err)
	return ok && qerr.Kind == kind
}
