package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/observability/tracing"
	"github.com/relayq/relayq/pkg/resilience"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultWorkerConcurrency  = 1
	DefaultWorkerBatchSize    = 1
	DefaultWorkerPollInterval = 100 * time.Millisecond
	DefaultWorkerErrorBackoff = time.Second
	DefaultCloseTimeout       = 30 * time.Second

	// shutdownPollInterval paces the active-counter wait during Close.
	shutdownPollInterval = 10 * time.Millisecond
)

// WorkerConfig tunes the fetch loop and dispatch cycle.
type WorkerConfig struct {
	// Concurrency bounds jobs held in flight at any instant.
	Concurrency int
	// BatchSize bounds jobs requested per fetch.
	BatchSize int
	// PollInterval is the idle and backpressure wait.
	PollInterval time.Duration
	// ErrorBackoff is the wait after a failed fetch.
	ErrorBackoff time.Duration
	// FetchWait is handed to long-polling providers; zero disables it.
	FetchWait time.Duration
	// HandlerTimeout bounds one handler invocation. Zero (the default)
	// disables it: dispatched work completes cooperatively.
	HandlerTimeout time.Duration
}

func (c *WorkerConfig) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultWorkerConcurrency
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultWorkerBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultWorkerPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultWorkerErrorBackoff
	}
}

// CloseOptions controls the shutdown sequence.
type CloseOptions struct {
	// Timeout bounds the wait for in-flight jobs.
	Timeout time.Duration
	// FinishActiveJobs waits for in-flight jobs before returning.
	FinishActiveJobs bool
	// DisconnectProvider additionally disconnects the provider. Opt-in:
	// a provider may be shared across workers with independent lifecycles.
	DisconnectProvider bool
}

// DefaultCloseOptions returns the standard shutdown: wait up to 30s for
// in-flight jobs, leave the provider connected.
func DefaultCloseOptions() CloseOptions {
	return CloseOptions{Timeout: DefaultCloseTimeout, FinishActiveJobs: true}
}

func (o *CloseOptions) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultCloseTimeout
	}
}

// Worker drives one queue: it pulls bounded batches from the provider (or
// registers itself for push dispatch), runs each job on the configured
// handler, and settles every dispatch exactly once via ack or nack.
//
// In pull mode a single goroutine owns the fetch loop; dispatched jobs run
// on their own goroutines, coordinated only through the atomic in-flight
// counter. The loop is never terminated by an error; only Close stops it.
type Worker struct {
	bound   *Bound
	handler Handler
	log     logger.Logger
	config  WorkerConfig
	events  emitter

	activeJobs atomic.Int64

	lifecycleMu  sync.Mutex
	running      bool
	cancel       context.CancelFunc
	pushShutdown ShutdownFunc

	loopDone chan struct{}
}

// NewWorker builds a worker over a bound provider. The provider must
// expose at least one consumption surface; when it exposes both, push is
// preferred because the backend's native loop is typically cheaper.
func NewWorker(bound *Bound, handler Handler, log logger.Logger, cfg WorkerConfig) (*Worker, error) {
	if bound == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "bound provider is required", nil)
	}
	if handler == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "handler is required", nil)
	}
	if log == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "logger is required", nil)
	}
	if !bound.CanFetch() && !bound.CanProcess() {
		return nil, NewConfigurationError(
			CodeInvalidConfig,
			"provider supports neither fetch nor process",
			nil,
		).WithQueue(bound.QueueName())
	}
	cfg.normalize()

	return &Worker{
		bound:   bound,
		handler: handler,
		log:     log.With("queue", bound.QueueName()),
		config:  cfg,
	}, nil
}

// Subscribe registers a lifecycle listener. Listeners are optional; the
// worker emits regardless and isolates listener panics.
func (w *Worker) Subscribe(listener Listener) {
	w.events.subscribe(listener)
}

// ActiveJobs returns the number of jobs currently held in flight.
func (w *Worker) ActiveJobs() int {
	return int(w.activeJobs.Load())
}

// Start begins consuming. It returns once the loop (or push subscription)
// is installed; processing continues until Close.
func (w *Worker) Start(ctx context.Context) error {
	if ctx == nil {
		return NewConfigurationError(CodeInvalidConfig, "context is required", nil)
	}

	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.running {
		return NewRuntimeError(CodeInvalidConfig, "worker already running", false, nil)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	// Dispatched handlers outlive Close's loop cancellation: shutdown means
	// "stop starting new work", never "abort running work".
	dispatchCtx := context.WithoutCancel(ctx)

	if w.bound.CanProcess() {
		shutdown, err := w.bound.Process(loopCtx, func(hctx context.Context, payload []byte, job *ActiveJob) error {
			return w.processJob(dispatchCtx, job)
		}, ProcessOptions{
			Concurrency: w.config.Concurrency,
			OnError: func(err error) {
				w.emitQueueError(err)
			},
		})
		if err != nil {
			cancel()
			return err
		}
		w.pushShutdown = shutdown
		w.cancel = cancel
		w.running = true
		w.log.Info("worker started", "mode", "push", "concurrency", w.config.Concurrency)
		return nil
	}

	w.cancel = cancel
	w.running = true
	w.loopDone = make(chan struct{})
	go w.runFetchLoop(loopCtx, dispatchCtx)
	w.log.Info("worker started",
		"mode", "pull",
		"concurrency", w.config.Concurrency,
		"batch_size", w.config.BatchSize,
	)
	return nil
}

// Close stops the worker with default options.
func (w *Worker) Close(ctx context.Context) error {
	return w.CloseWithOptions(ctx, DefaultCloseOptions())
}

// CloseWithOptions stops fetching, optionally waits for in-flight jobs,
// and optionally disconnects the provider. A second call is a no-op.
// The deadline elapsing is observable (processor.shutdown_timeout), not
// fatal: running handlers are never killed.
func (w *Worker) CloseWithOptions(ctx context.Context, opts CloseOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	opts.normalize()

	w.lifecycleMu.Lock()
	if !w.running {
		w.lifecycleMu.Unlock()
		return nil
	}
	w.running = false
	cancel := w.cancel
	w.cancel = nil
	shutdown := w.pushShutdown
	w.pushShutdown = nil
	loopDone := w.loopDone
	w.lifecycleMu.Unlock()

	w.events.emit(Event{Type: EventShuttingDown, Queue: w.bound.QueueName()})
	w.log.Info("worker shutting down")

	if cancel != nil {
		cancel()
	}
	if loopDone != nil {
		<-loopDone
	}
	if shutdown != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, opts.Timeout)
		err := shutdown(shutdownCtx)
		shutdownCancel()
		if err != nil {
			w.emitQueueError(fmt.Errorf("push shutdown failed: %w", err))
		}
	}

	if opts.FinishActiveJobs {
		w.waitForActiveJobs(opts.Timeout)
	}

	if opts.DisconnectProvider {
		return w.bound.Disconnect(ctx)
	}
	return nil
}

func (w *Worker) waitForActiveJobs(timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for w.activeJobs.Load() > 0 {
		select {
		case <-deadline.C:
			remaining := int(w.activeJobs.Load())
			if remaining > 0 {
				w.events.emit(Event{
					Type:       EventShutdownTimeout,
					Queue:      w.bound.QueueName(),
					ActiveJobs: remaining,
					Timeout:    timeout,
				})
				w.log.Warn("shutdown deadline elapsed with jobs still in flight",
					"active_jobs", remaining, "timeout", timeout)
			}
			return
		case <-ticker.C:
		}
	}
}

// runFetchLoop is the sole fetcher and the only goroutine deciding when
// slots are free. Fetch errors back the loop off; they never stop it.
func (w *Worker) runFetchLoop(loopCtx, dispatchCtx context.Context) {
	defer close(w.loopDone)

	for {
		if loopCtx.Err() != nil {
			return
		}

		active := int(w.activeJobs.Load())
		if active >= w.config.Concurrency {
			if !sleepCtx(loopCtx, w.config.PollInterval) {
				return
			}
			continue
		}

		fetchCount := w.config.BatchSize
		if free := w.config.Concurrency - active; free < fetchCount {
			fetchCount = free
		}

		jobs, err := w.bound.Fetch(loopCtx, fetchCount, w.config.FetchWait)
		if err != nil {
			if loopCtx.Err() != nil {
				return
			}
			recordFetchError(w.bound.QueueName())
			w.emitQueueError(err)
			w.log.Warn("fetch failed", "error", err)
			if !sleepCtx(loopCtx, w.config.ErrorBackoff) {
				return
			}
			continue
		}
		if len(jobs) == 0 {
			if !sleepCtx(loopCtx, w.config.PollInterval) {
				return
			}
			continue
		}

		// The slot is reserved before the goroutine exists so the gate
		// above never reads a count that is missing a spawned dispatch.
		for _, job := range jobs {
			if job == nil || job.Job == nil {
				continue
			}
			w.reserveSlot()
			go func(active *ActiveJob) {
				defer w.releaseSlot()
				_ = w.dispatch(dispatchCtx, active)
			}(job)
		}
	}
}

// reserveSlot and releaseSlot bracket every dispatch. In pull mode the
// fetch loop reserves before spawning the dispatch goroutine, so its
// backpressure gate counts work it has committed to but that has not
// started yet. Push mode reserves inside processJob.
func (w *Worker) reserveSlot() {
	w.activeJobs.Add(1)
	incrementJobInFlight(w.bound.QueueName())
}

func (w *Worker) releaseSlot() {
	w.activeJobs.Add(-1)
	decrementJobInFlight(w.bound.QueueName())
}

// processJob reserves a slot and runs one dispatch; exactly one release on
// every exit path.
func (w *Worker) processJob(ctx context.Context, active *ActiveJob) error {
	w.reserveSlot()
	defer w.releaseSlot()
	return w.dispatch(ctx, active)
}

// dispatch settles one already-counted job exactly once via ack or nack,
// on every exit path including handler panics and settle failures. The
// caller owns the slot.
func (w *Worker) dispatch(ctx context.Context, active *ActiveJob) error {
	job := active.Job
	queueName := w.bound.QueueName()

	traceCtx, span := tracing.StartMessagingSpan(
		ctx,
		tracing.SpanOperationMsgProcess,
		tracing.WithMessagingSystem(w.bound.Provider().Name()),
		tracing.WithMessagingDestination(queueName),
		tracing.WithMessagingMessageID(job.ID),
		tracing.WithMessagingPayloadSize(len(job.Payload)),
	)
	span.SetAttributes(
		attribute.String("queue.job_name", job.Name),
		attribute.Int("queue.attempts", job.Attempts),
		attribute.Int("queue.max_attempts", job.MaxAttempts),
	)
	defer span.End()

	// Handler-side loggers pick the job ID up through WithContext.
	traceCtx = logger.ContextWithJobID(traceCtx, job.ID)

	w.events.emit(Event{
		Type:     EventJobActive,
		Queue:    queueName,
		JobID:    job.ID,
		Attempts: job.Attempts,
		Status:   StatusActive,
	})

	start := time.Now()
	handlerErr := w.invokeHandler(traceCtx, active)
	duration := time.Since(start)

	if handlerErr == nil {
		if ackErr := w.bound.Ack(traceCtx, active, nil); ackErr != nil {
			// The handler already succeeded; a failed ack is a backend
			// consistency concern, not a processing failure.
			tracing.RecordError(span, ackErr)
			w.emitQueueError(fmt.Errorf("ack job %s failed: %w", job.ID, ackErr))
			w.log.Warn("ack failed", "job_id", job.ID, "error", ackErr)
		}
		recordJobProcessed(queueName, job.Name, "success")
		tracing.RecordSuccess(span)
		w.events.emit(Event{
			Type:     EventJobCompleted,
			Queue:    queueName,
			JobID:    job.ID,
			Attempts: job.Attempts,
			Status:   StatusCompleted,
			Duration: duration,
		})
		return nil
	}

	tracing.RecordError(span, handlerErr)

	// Prediction only: the backend settles retry-vs-terminal from its own
	// attempt counter after the nack, and the two may disagree.
	willRetry := job.Attempts+1 < job.MaxAttempts

	if nackErr := w.bound.Nack(traceCtx, active, handlerErr); nackErr != nil {
		w.emitQueueError(fmt.Errorf("nack job %s failed: %w", job.ID, nackErr))
		w.log.Warn("nack failed", "job_id", job.ID, "error", nackErr)
	}

	recordJobProcessed(queueName, job.Name, "failed")
	w.events.emit(Event{
		Type:      EventJobFailed,
		Queue:     queueName,
		JobID:     job.ID,
		Attempts:  job.Attempts,
		Duration:  duration,
		Err:       handlerErr,
		ErrType:   errType(handlerErr),
		WillRetry: willRetry,
	})
	if willRetry {
		recordJobRetry(queueName, job.Name)
		w.events.emit(Event{
			Type:        EventJobRetrying,
			Queue:       queueName,
			JobID:       job.ID,
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
		})
	}
	return handlerErr
}

func (w *Worker) invokeHandler(ctx context.Context, active *ActiveJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while handling job: %v; stack=%s", rec, string(debug.Stack()))
		}
	}()

	if w.config.HandlerTimeout > 0 {
		return resilience.WithTimeout(ctx, w.config.HandlerTimeout, func(runCtx context.Context) error {
			return w.handler(runCtx, active.Job.Payload, active)
		})
	}
	return w.handler(ctx, active.Job.Payload, active)
}

func (w *Worker) emitQueueError(err error) {
	w.events.emit(Event{
		Type:    EventQueueError,
		Queue:   w.bound.QueueName(),
		Err:     err,
		ErrType: errType(err),
	})
}

// sleepCtx waits for d or context cancellation; false means canceled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
