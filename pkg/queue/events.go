package queue

import (
	"sync"
	"time"
)

// EventType names one lifecycle notification.
type EventType string

const (
	EventJobActive       EventType = "active"
	EventJobCompleted    EventType = "completed"
	EventJobFailed       EventType = "failed"
	EventJobRetrying     EventType = "job.retrying"
	EventShuttingDown    EventType = "processor.shutting_down"
	EventShutdownTimeout EventType = "processor.shutdown_timeout"
	EventQueueError      EventType = "queue.error"
)

// Event is one lifecycle notification. Only the fields relevant to the
// event type are populated.
type Event struct {
	Type     EventType
	Queue    string
	JobID    string
	Status   Status
	Attempts int
	// MaxAttempts is set on job.retrying events.
	MaxAttempts int
	Duration    time.Duration
	Err         error
	// ErrType carries the queue error code when Err is a *Error.
	ErrType string
	// WillRetry is a best-effort prediction computed from the pre-nack
	// snapshot; the backend's own decision is authoritative and may differ.
	WillRetry bool
	// ActiveJobs is set on processor.shutdown_timeout events.
	ActiveJobs int
	// Timeout is set on processor.shutdown_timeout events.
	Timeout time.Duration
	At      time.Time
}

// Listener receives emitted events. Listeners run synchronously on the
// emitting goroutine and must not block.
type Listener func(Event)

// emitter fans events out to registered listeners. Emission never fails
// and never requires a listener to be present; a panicking listener is
// isolated so observability bugs cannot take down processing.
type emitter struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (e *emitter) subscribe(listener Listener) {
	if listener == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, listener)
	e.mu.Unlock()
}

func (e *emitter) emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	e.mu.RLock()
	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.RUnlock()

	for _, listener := range listeners {
		invokeListener(listener, event)
	}
}

func invokeListener(listener Listener, event Event) {
	defer func() {
		_ = recover()
	}()
	listener(event)
}

func errType(err error) string {
	if qerr, ok := AsError(err); ok {
		return qerr.Code
	}
	return ""
}
