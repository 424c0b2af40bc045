package queue

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relayq/relayq/pkg/observability/logger"
)

const (
	// DefaultMaxAttempts applies when neither the queue nor the enqueue
	// call sets a limit.
	DefaultMaxAttempts = 3
)

// Queue is the enqueue-side API over a bound provider. It is the only
// component that reads the provider's capability declaration: requested
// options a backend cannot honor are dropped (with a warning) or rejected
// before the job ever reaches the provider.
type Queue struct {
	bound *Bound
	log   logger.Logger

	defaultMaxAttempts int
}

// QueueConfig tunes enqueue defaults.
type QueueConfig struct {
	DefaultMaxAttempts int
}

// NewQueue creates the enqueue API for one bound provider.
func NewQueue(bound *Bound, log logger.Logger, cfg QueueConfig) (*Queue, error) {
	if bound == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "bound provider is required", nil)
	}
	if log == nil {
		return nil, NewConfigurationError(CodeInvalidConfig, "logger is required", nil)
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		bound:              bound,
		log:                log.With("queue", bound.QueueName()),
		defaultMaxAttempts: cfg.DefaultMaxAttempts,
	}, nil
}

// Name returns the bound queue identifier.
func (q *Queue) Name() string { return q.bound.QueueName() }

// Bound returns the underlying bound provider.
func (q *Queue) Bound() *Bound { return q.bound }

// Add enqueues one job. Payload bytes are stored opaquely; use
// MarshalPayload for structured values.
func (q *Queue) Add(ctx context.Context, name string, payload []byte, opts AddOptions) (*Job, error) {
	job, err := q.buildJob(name, payload, opts)
	if err != nil {
		return nil, err
	}

	stored, err := q.bound.Add(ctx, job)
	if err != nil {
		return nil, err
	}
	recordJobEnqueued(q.bound.Provider().Name(), stored)
	return stored, nil
}

func (q *Queue) buildJob(name string, payload []byte, opts AddOptions) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewDataError(CodeInvalidJob, "job name is required", nil).WithQueue(q.bound.QueueName())
	}
	if len(payload) == 0 {
		return nil, NewDataError(CodeInvalidJob, "job payload is required", nil).WithQueue(q.bound.QueueName())
	}

	caps := q.bound.Capabilities()
	if caps.MaxJobSize > 0 && len(payload) > caps.MaxJobSize {
		return nil, NewDataError(
			CodePayloadTooLarge,
			"payload exceeds provider limit",
			nil,
		).WithQueue(q.bound.QueueName())
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		Queue:       q.bound.QueueName(),
		Payload:     cloneBytes(payload),
		Status:      StatusWaiting,
		MaxAttempts: q.defaultMaxAttempts,
		Metadata:    cloneMetadata(opts.Metadata),
		CreatedAt:   now,
	}
	if opts.MaxAttempts > 0 {
		job.MaxAttempts = opts.MaxAttempts
	}

	if opts.Delay > 0 {
		if !caps.DelayedJobs {
			q.log.Warn("provider does not support delayed jobs, enqueueing immediately",
				"provider", q.bound.Provider().Name(), "delay", opts.Delay)
		} else {
			delay := opts.Delay
			if caps.MaxDelay > 0 && delay > caps.MaxDelay {
				return nil, NewDataError(
					CodeInvalidJob,
					"delay exceeds provider limit",
					nil,
				).WithQueue(q.bound.QueueName())
			}
			job.Status = StatusDelayed
			job.ScheduledFor = now.Add(delay)
		}
	}

	if opts.Priority != 0 {
		if caps.Priority {
			job.Priority = opts.Priority
		} else {
			q.log.Warn("provider does not support priority, option dropped",
				"provider", q.bound.Provider().Name())
		}
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}
