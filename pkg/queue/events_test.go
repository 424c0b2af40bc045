package queue

import (
	"errors"
	"testing"
)

func TestEmitterIsolatesPanickingListeners(t *testing.T) {
	var e emitter
	var delivered int

	e.subscribe(func(Event) { panic("broken listener") })
	e.subscribe(func(Event) { delivered++ })

	e.emit(Event{Type: EventJobCompleted})
	e.emit(Event{Type: EventJobCompleted})

	if delivered != 2 {
		t.Fatalf("healthy listener received %d events, want 2", delivered)
	}
}

func TestEmitterWithoutListeners(t *testing.T) {
	var e emitter
	// Emission with no listeners must be a no-op, not a failure.
	e.emit(Event{Type: EventQueueError})
}

func TestEmitStampsTimestamp(t *testing.T) {
	var e emitter
	var got Event
	e.subscribe(func(event Event) { got = event })

	e.emit(Event{Type: EventJobActive})
	if got.At.IsZero() {
		t.Fatal("emitted event must carry a timestamp")
	}
}

func TestErrTypeReadsQueueErrorCode(t *testing.T) {
	if got := errType(NewRuntimeError(CodeConnectionLost, "gone", true, nil)); got != CodeConnectionLost {
		t.Fatalf("errType = %q, want %q", got, CodeConnectionLost)
	}
	if got := errType(errors.New("plain")); got != "" {
		t.Fatalf("errType of plain error = %q, want empty", got)
	}
}
