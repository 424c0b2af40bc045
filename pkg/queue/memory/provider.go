// Package memory implements a process-local queue provider. It is the
// reference backend: it honors every optional capability and is used by
// tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

const (
	// MetadataLeaseToken keys the dispatch lease inside provider metadata.
	MetadataLeaseToken = "memory_lease_token"

	defaultLeaseTTL     = 30 * time.Second
	defaultRetryDelay   = time.Second
	defaultPollInterval = 10 * time.Millisecond
)

// Config tunes the in-memory provider.
type Config struct {
	// LeaseTTL bounds how long a fetched job may stay unsettled before it
	// is returned to the queue.
	LeaseTTL time.Duration
	// RetryDelay schedules nacked jobs that still have attempts left.
	RetryDelay time.Duration
}

func (c *Config) normalize() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
}

type queueState struct {
	ready     []*queue.Job
	delayed   []*queue.Job
	paused    bool
	completed int64
	failed    int64
	active    int64
}

type leaseState struct {
	job   *queue.Job
	queue string
	timer *time.Timer
}

// Provider keeps all state under one mutex. Ready jobs are ordered by
// priority (higher first) then insertion; delayed jobs promote when due.
type Provider struct {
	log logger.Logger
	cfg Config

	mu        sync.Mutex
	connected bool
	queues    map[string]*queueState
	leases    map[string]*leaseState
	seq       map[string]int64
	order     map[*queue.Job]int64
}

var (
	_ queue.Provider  = (*Provider)(nil)
	_ queue.Fetcher   = (*Provider)(nil)
	_ queue.Processor = (*Provider)(nil)
)

// New creates an in-memory provider.
func New(cfg Config, log logger.Logger) (*Provider, error) {
	if log == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "logger is required", nil)
	}
	cfg.normalize()
	return &Provider{
		log:    log,
		cfg:    cfg,
		queues: map[string]*queueState{},
		leases: map[string]*leaseState{},
		seq:    map[string]int64{},
		order:  map[*queue.Job]int64{},
	}, nil
}

func (p *Provider) Name() string { return "memory" }

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		DelayedJobs: true,
		Priority:    true,
		Batching:    true,
		Retries:     true,
		DLQ:         false,
		LongPolling: true,
	}
}

func (p *Provider) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Disconnect drops all queues and releases outstanding leases.
func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, lease := range p.leases {
		if lease.timer != nil {
			lease.timer.Stop()
		}
	}
	p.leases = map[string]*leaseState{}
	p.queues = map[string]*queueState{}
	p.order = map[*queue.Job]int64{}
	p.connected = false
	return nil
}

// Add stores a job for immediate or delayed execution.
func (p *Provider) Add(ctx context.Context, job *queue.Job) (*queue.Job, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}

	state := p.queueState(job.Queue)
	for _, existing := range append(append([]*queue.Job{}, state.ready...), state.delayed...) {
		if existing.ID == job.ID {
			return nil, queue.NewDataError(queue.CodeDuplicateJob, "job id already enqueued", nil).
				WithJob(job.ID).WithQueue(job.Queue)
		}
	}

	stored := job.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	p.enqueueLocked(state, stored)
	return stored.Clone(), nil
}

// Fetch returns up to batchSize ready jobs. A positive wait long-polls
// until work arrives or the wait elapses; fewer than batchSize results
// means no more ready work.
func (p *Provider) Fetch(ctx context.Context, queueName string, batchSize int, wait time.Duration) ([]*queue.ActiveJob, error) {
	if batchSize <= 0 {
		batchSize = 1
	}
	deadline := time.Now().Add(wait)

	for {
		jobs, err := p.fetchOnce(queueName, batchSize)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 || wait <= 0 || time.Now().After(deadline) {
			return jobs, nil
		}
		timer := time.NewTimer(defaultPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Provider) fetchOnce(queueName string, batchSize int) ([]*queue.ActiveJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return nil, err
	}

	state := p.queueState(queueName)
	p.promoteDueLocked(state)
	if state.paused || len(state.ready) == 0 {
		return nil, nil
	}

	count := batchSize
	if count > len(state.ready) {
		count = len(state.ready)
	}

	out := make([]*queue.ActiveJob, 0, count)
	for idx := 0; idx < count; idx++ {
		job := state.ready[0]
		state.ready = state.ready[1:]
		delete(p.order, job)

		job.Status = queue.StatusActive
		job.ProcessedAt = time.Now().UTC()
		state.active++

		token := queue.RandomToken()
		lease := &leaseState{job: job, queue: queueName}
		lease.timer = time.AfterFunc(p.cfg.LeaseTTL, func() {
			p.expireLease(token)
		})
		p.leases[token] = lease

		out = append(out, &queue.ActiveJob{
			Job:              job.Clone(),
			ProviderMetadata: map[string]string{MetadataLeaseToken: token},
		})
	}
	return out, nil
}

// Ack settles a dispatch as completed. An unknown or already-settled
// lease is rejected without touching queue state.
func (p *Provider) Ack(ctx context.Context, active *queue.ActiveJob, result []byte) error {
	lease, err := p.popLease(active)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.queueState(lease.queue)
	state.active--
	state.completed++
	return nil
}

// Nack settles a dispatch as failed. The provider owns the retry
// decision: jobs with attempts remaining are rescheduled after
// RetryDelay, exhausted jobs are counted failed and dropped.
func (p *Provider) Nack(ctx context.Context, active *queue.ActiveJob, cause error) error {
	lease, err := p.popLease(active)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	state := p.queueState(lease.queue)
	state.active--

	job := lease.job
	job.Attempts++
	if cause != nil {
		job.Error = cause.Error()
	}

	if job.Attempts < job.MaxAttempts {
		job.Status = queue.StatusDelayed
		job.ScheduledFor = time.Now().UTC().Add(p.cfg.RetryDelay)
		p.enqueueLocked(state, job)
		return nil
	}

	job.Status = queue.StatusFailed
	job.FailedAt = time.Now().UTC()
	state.failed++
	return nil
}

// Process runs a native dispatch loop feeding the handler, bounded by a
// semaphore. The returned shutdown stops dispatch and waits for in-flight
// handler invocations.
func (p *Provider) Process(ctx context.Context, queueName string, handler queue.Handler, opts queue.ProcessOptions) (queue.ShutdownFunc, error) {
	if handler == nil {
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig, "handler is required", nil)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	slots := make(chan struct{}, concurrency)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if loopCtx.Err() != nil {
				return
			}
			select {
			case <-loopCtx.Done():
				return
			case slots <- struct{}{}:
			}

			jobs, err := p.Fetch(loopCtx, queueName, 1, 0)
			if err != nil || len(jobs) == 0 {
				<-slots
				if err != nil && loopCtx.Err() == nil && opts.OnError != nil {
					opts.OnError(err)
				}
				if !sleepCtx(loopCtx, defaultPollInterval) {
					return
				}
				continue
			}

			job := jobs[0]
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-slots }()
				if err := handler(loopCtx, job.Job.Payload, job); err != nil && opts.OnError != nil {
					opts.OnError(err)
				}
			}()
		}
	}()

	return func(shutdownCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		case <-done:
			return nil
		}
	}, nil
}

// Pause stops Fetch from returning work on one queue; enqueued jobs keep
// accumulating.
func (p *Provider) Pause(ctx context.Context, queueName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return err
	}
	p.queueState(queueName).paused = true
	return nil
}

func (p *Provider) Resume(ctx context.Context, queueName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return err
	}
	p.queueState(queueName).paused = false
	return nil
}

// Delete drops a queue and everything waiting on it. In-flight leases
// survive until settled or expired.
func (p *Provider) Delete(ctx context.Context, queueName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return err
	}
	state, ok := p.queues[queueName]
	if !ok {
		return queue.NewNotFoundError(queue.CodeQueueNotFound, "queue not found").WithQueue(queueName)
	}
	for _, job := range state.ready {
		delete(p.order, job)
	}
	delete(p.queues, queueName)
	return nil
}

// Stats returns raw counters for one queue.
func (p *Provider) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnected(); err != nil {
		return queue.Stats{}, err
	}
	state := p.queueState(queueName)
	p.promoteDueLocked(state)
	return queue.Stats{
		Queue:     queueName,
		Waiting:   int64(len(state.ready)),
		Delayed:   int64(len(state.delayed)),
		Active:    state.active,
		Completed: state.completed,
		Failed:    state.failed,
	}, nil
}

func (p *Provider) Health(ctx context.Context) (queue.Health, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return queue.Health{Connected: false, Error: "not connected"}, nil
	}
	return queue.Health{Connected: true}, nil
}

func (p *Provider) ensureConnected() error {
	if !p.connected {
		return queue.NewRuntimeError(queue.CodeNotConnected, "memory provider is not connected", false, nil)
	}
	return nil
}

func (p *Provider) queueState(name string) *queueState {
	state, ok := p.queues[name]
	if !ok {
		state = &queueState{}
		p.queues[name] = state
	}
	return state
}

// enqueueLocked places a job on ready or delayed and keeps ready ordered
// by priority, then arrival.
func (p *Provider) enqueueLocked(state *queueState, job *queue.Job) {
	if !job.ScheduledFor.IsZero() && job.ScheduledFor.After(time.Now().UTC()) {
		job.Status = queue.StatusDelayed
		state.delayed = append(state.delayed, job)
		return
	}
	job.Status = queue.StatusWaiting
	p.seq[job.Queue]++
	p.order[job] = p.seq[job.Queue]
	state.ready = append(state.ready, job)
	sort.SliceStable(state.ready, func(i, j int) bool {
		a, b := state.ready[i], state.ready[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return p.order[a] < p.order[b]
	})
}

func (p *Provider) promoteDueLocked(state *queueState) {
	if len(state.delayed) == 0 {
		return
	}
	now := time.Now().UTC()
	remaining := state.delayed[:0]
	for _, job := range state.delayed {
		if job.ScheduledFor.After(now) {
			remaining = append(remaining, job)
			continue
		}
		job.ScheduledFor = time.Time{}
		p.enqueueLocked(state, job)
	}
	state.delayed = remaining
}

func (p *Provider) popLease(active *queue.ActiveJob) (*leaseState, error) {
	if active == nil {
		return nil, queue.NewDataError(queue.CodeInvalidJob, "active job is required", nil)
	}
	token := strings.TrimSpace(active.ProviderMetadata[MetadataLeaseToken])
	if token == "" {
		return nil, queue.NewDataError(queue.CodeUnknownLease, "lease token is missing", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	lease, ok := p.leases[token]
	if !ok {
		return nil, queue.NewNotFoundError(queue.CodeUnknownLease, "lease not found or already settled")
	}
	delete(p.leases, token)
	if lease.timer != nil {
		lease.timer.Stop()
	}
	return lease, nil
}

func (p *Provider) expireLease(token string) {
	p.mu.Lock()
	lease, ok := p.leases[token]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.leases, token)
	state := p.queueState(lease.queue)
	state.active--
	lease.job.Attempts++
	if lease.job.Attempts < lease.job.MaxAttempts {
		lease.job.Status = queue.StatusWaiting
		lease.job.ScheduledFor = time.Time{}
		p.enqueueLocked(state, lease.job)
	} else {
		lease.job.Status = queue.StatusFailed
		lease.job.FailedAt = time.Now().UTC()
		state.failed++
	}
	p.mu.Unlock()
	p.log.Warn("lease expired", "queue", lease.queue, "job_id", lease.job.ID)
}

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
