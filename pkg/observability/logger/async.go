package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultAsyncQueueSize = 1024

// AsyncConfig tunes the async wrapper returned by WrapAsync.
type AsyncConfig struct {
	// Enabled turns the wrapper on; when false WrapAsync returns the
	// base logger unchanged.
	Enabled bool
	// QueueSize bounds buffered entries; <= 0 uses the default.
	QueueSize int
	// WorkerCount is the number of draining goroutines; <= 0 means one.
	WorkerCount int
	// DropWhenFull discards entries instead of blocking the caller when
	// the queue is full.
	DropWhenFull bool
}

// AsyncLogger buffers log calls on a channel and replays them through the
// wrapped logger from background goroutines. With and WithContext children
// share the parent's queue, so one Close drains everything.
type AsyncLogger struct {
	base Logger
	sink *asyncSink
}

// asyncSink owns the queue and its drain goroutines. Entries are captured
// as closures so level and fields need no re-dispatch on the drain side.
type asyncSink struct {
	queue    chan func()
	dropFull bool
	wg       sync.WaitGroup
	closed   atomic.Bool
	once     sync.Once
}

// WrapAsync wraps base with async dispatch. After Close, entries fall
// through to the base logger synchronously so late shutdown logging is
// never lost.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultAsyncQueueSize
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	sink := &asyncSink{
		queue:    make(chan func(), size),
		dropFull: cfg.DropWhenFull,
	}
	sink.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go sink.drain()
	}

	return &AsyncLogger{base: base, sink: sink}
}

func (l *AsyncLogger) Debug(msg string, args ...any) {
	l.sink.submit(func() { l.base.Debug(msg, args...) })
}

func (l *AsyncLogger) Info(msg string, args ...any) {
	l.sink.submit(func() { l.base.Info(msg, args...) })
}

func (l *AsyncLogger) Warn(msg string, args ...any) {
	l.sink.submit(func() { l.base.Warn(msg, args...) })
}

func (l *AsyncLogger) Error(msg string, args ...any) {
	l.sink.submit(func() { l.base.Error(msg, args...) })
}

// With returns a child sharing this logger's queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), sink: l.sink}
}

// WithContext returns a child sharing this logger's queue.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), sink: l.sink}
}

// Close drains buffered entries and stops the drain goroutines. Safe to
// call more than once.
func (l *AsyncLogger) Close() {
	l.sink.close()
}

func (s *asyncSink) submit(entry func()) {
	if s.closed.Load() {
		entry()
		return
	}
	if s.dropFull {
		select {
		case s.queue <- entry:
		default:
		}
		return
	}
	s.queue <- entry
}

func (s *asyncSink) drain() {
	defer s.wg.Done()
	for entry := range s.queue {
		entry()
	}
}

func (s *asyncSink) close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.queue)
		s.wg.Wait()
	})
}
