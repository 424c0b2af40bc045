package queue

import (
	"context"
	"strings"
	"time"
)

// Capabilities is a static per-provider declaration of optional features.
// The add-path consults it to honor or drop requested options; the Worker
// never reads it.
type Capabilities struct {
	DelayedJobs bool
	Priority    bool
	Batching    bool
	Retries     bool
	DLQ         bool
	LongPolling bool
	// MaxJobSize bounds the payload in bytes; zero means unbounded.
	MaxJobSize int
	// MaxBatchSize bounds one fetch; zero means unbounded.
	MaxBatchSize int
	// MaxDelay bounds ScheduledFor offsets; zero means unbounded.
	MaxDelay time.Duration
}

// Stats carries raw backend counters. No health verdict is derived here;
// interpretation belongs to the caller.
type Stats struct {
	Queue     string
	Waiting   int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}

// Health reports raw connectivity facts about a provider.
type Health struct {
	Connected bool
	Latency   time.Duration
	Error     string
}

// AddOptions tunes a single enqueue. Unsupported options are dropped or
// rejected by the add-path according to the provider's capabilities.
type AddOptions struct {
	// Delay schedules the job for later execution.
	Delay time.Duration
	// Priority orders ready jobs when the provider supports it. Higher
	// runs first.
	Priority int
	// MaxAttempts overrides the queue default for this job.
	MaxAttempts int
	// Metadata is attached to the job verbatim.
	Metadata map[string]string
}

// Handler processes one dispatched job. The payload and the full job are
// both passed so simple handlers can ignore the envelope.
type Handler func(ctx context.Context, payload []byte, job *ActiveJob) error

// ShutdownFunc stops a push-mode subscription when awaited. It must stop
// new dispatch and release the provider-side subscription resources.
type ShutdownFunc func(ctx context.Context) error

// ProcessOptions configures a push-mode subscription.
type ProcessOptions struct {
	// Concurrency bounds handler invocations in flight inside the provider.
	Concurrency int
	// OnError receives dispatch-level failures the handler never saw
	// (decode errors, settle failures). Optional.
	OnError func(error)
}

// Provider is the contract a backend adapter satisfies. Consumption is
// declared through the optional Fetcher and Processor interfaces; a
// provider implementing neither cannot feed a Worker.
type Provider interface {
	// Name identifies the backend ("memory", "redis", "sqs", "rabbitmq").
	Name() string
	// Capabilities returns the static feature declaration.
	Capabilities() Capabilities

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Add stores a job. The returned job reflects backend-assigned fields.
	Add(ctx context.Context, job *Job) (*Job, error)
	// Ack settles a dispatched job as succeeded. The optional result is
	// backend bookkeeping only. Settling the same dispatch twice is a
	// caller error providers reject without corrupting state.
	Ack(ctx context.Context, job *ActiveJob, result []byte) error
	// Nack settles a dispatched job as failed. The backend alone decides,
	// from its own attempt counter and policy, whether the job is retried
	// or dead-lettered.
	Nack(ctx context.Context, job *ActiveJob, cause error) error

	Pause(ctx context.Context, queue string) error
	Resume(ctx context.Context, queue string) error
	Delete(ctx context.Context, queue string) error

	Stats(ctx context.Context, queue string) (Stats, error)
	Health(ctx context.Context) (Health, error)
}

// Fetcher is the pull-model surface: the caller repeatedly asks for a
// bounded batch of ready work. Returning fewer than batchSize items means
// "no more ready work", not an error. Each returned ActiveJob carries the
// provider metadata needed to settle it.
type Fetcher interface {
	Fetch(ctx context.Context, queue string, batchSize int, wait time.Duration) ([]*ActiveJob, error)
}

// Processor is the push-model surface: the provider runs its native
// dispatch loop and invokes the handler itself.
type Processor interface {
	Process(ctx context.Context, queue string, handler Handler, opts ProcessOptions) (ShutdownFunc, error)
}

// Bound is a queue-name-scoped view of a Provider so no call site repeats
// the queue identifier. All Worker and Queue operations go through it.
type Bound struct {
	provider Provider
	queue    string
}

// Bind scopes a provider to one queue name.
func Bind(provider Provider, queueName string) (*Bound, error) {
	if provider == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "provider is required", nil)
	}
	queueName = strings.TrimSpace(queueName)
	if queueName == "" {
		return nil, NewConfigurationError(CodeInvalidConfig, "queue name is required", nil)
	}
	return &Bound{provider: provider, queue: queueName}, nil
}

// QueueName returns the bound queue identifier.
func (b *Bound) QueueName() string { return b.queue }

// Provider returns the underlying provider.
func (b *Bound) Provider() Provider { return b.provider }

// Capabilities returns the provider's static declaration.
func (b *Bound) Capabilities() Capabilities { return b.provider.Capabilities() }

// Add stores a job on the bound queue.
func (b *Bound) Add(ctx context.Context, job *Job) (*Job, error) {
	job.Queue = b.queue
	return b.provider.Add(ctx, job)
}

// Fetch pulls up to batchSize ready jobs when the provider supports the
// pull model.
func (b *Bound) Fetch(ctx context.Context, batchSize int, wait time.Duration) ([]*ActiveJob, error) {
	fetcher, ok := b.provider.(Fetcher)
	if !ok {
		return nil, NewConfigurationError(CodeNotSupported, "provider does not support fetch", nil).WithQueue(b.queue)
	}
	return fetcher.Fetch(ctx, b.queue, batchSize, wait)
}

// CanFetch reports whether the provider exposes the pull model.
func (b *Bound) CanFetch() bool {
	_, ok := b.provider.(Fetcher)
	return ok
}

// Process registers a push-mode handler when the provider supports it.
func (b *Bound) Process(ctx context.Context, handler Handler, opts ProcessOptions) (ShutdownFunc, error) {
	processor, ok := b.provider.(Processor)
	if !ok {
		return nil, NewConfigurationError(CodeNotSupported, "provider does not support process", nil).WithQueue(b.queue)
	}
	return processor.Process(ctx, b.queue, handler, opts)
}

// CanProcess reports whether the provider exposes the push model.
func (b *Bound) CanProcess() bool {
	_, ok := b.provider.(Processor)
	return ok
}

// Ack settles a dispatch as succeeded.
func (b *Bound) Ack(ctx context.Context, job *ActiveJob, result []byte) error {
	return b.provider.Ack(ctx, job, result)
}

// Nack settles a dispatch as failed.
func (b *Bound) Nack(ctx context.Context, job *ActiveJob, cause error) error {
	return b.provider.Nack(ctx, job, cause)
}

// Pause stops dispatch on the bound queue.
func (b *Bound) Pause(ctx context.Context) error { return b.provider.Pause(ctx, b.queue) }

// Resume restarts dispatch on the bound queue.
func (b *Bound) Resume(ctx context.Context) error { return b.provider.Resume(ctx, b.queue) }

// Delete removes the bound queue and its jobs.
func (b *Bound) Delete(ctx context.Context) error { return b.provider.Delete(ctx, b.queue) }

// Stats returns raw counters for the bound queue.
func (b *Bound) Stats(ctx context.Context) (Stats, error) { return b.provider.Stats(ctx, b.queue) }

// Health returns raw provider connectivity facts.
func (b *Bound) Health(ctx context.Context) (Health, error) { return b.provider.Health(ctx) }

// Disconnect releases the provider connection. Exposed for Worker close
// with DisconnectProvider set; providers may be shared, so this is never
// called implicitly.
func (b *Bound) Disconnect(ctx context.Context) error { return b.provider.Disconnect(ctx) }
