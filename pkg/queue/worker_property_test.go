package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_EverySettledDispatchBalancesTheCounter drains random
// workloads through the worker and checks the settlement invariants: one
// settle per job, acks+nacks equals dispatched jobs, and the in-flight
// counter returns to zero.
func TestProperty_EverySettledDispatchBalancesTheCounter(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("acks plus nacks equals dispatches and the counter drains", prop.ForAll(
		func(jobCount int, concurrency int, failureMask uint32) bool {
			provider := newFakeFetchProvider(jobCount + 1)
			for i := 0; i < jobCount; i++ {
				provider.jobs <- testActiveJob("job", 0, 3)
			}

			var seen int
			worker, err := NewWorker(mustBind(t, provider), func(ctx context.Context, payload []byte, job *ActiveJob) error {
				provider.mu.Lock()
				n := seen
				seen++
				provider.mu.Unlock()
				switch {
				case failureMask&(1<<(uint(n)%32)) == 0:
					return nil
				case n%5 == 0:
					panic("induced panic")
				default:
					return errors.New("induced failure")
				}
			}, &testLogger{}, WorkerConfig{
				Concurrency:  concurrency,
				BatchSize:    3,
				PollInterval: time.Millisecond,
			})
			if err != nil {
				return false
			}
			if err := worker.Start(context.Background()); err != nil {
				return false
			}

			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				if provider.settleCount("ack")+provider.settleCount("nack") == jobCount {
					break
				}
				time.Sleep(time.Millisecond)
			}
			if err := worker.Close(context.Background()); err != nil {
				return false
			}

			settled := provider.settleCount("ack") + provider.settleCount("nack")
			return settled == jobCount && worker.ActiveJobs() == 0
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 4),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}

// TestProperty_ActiveJobsNeverExceedsConcurrency holds every handler on a
// gate and checks the backpressure bound for random concurrency limits.
func TestProperty_ActiveJobsNeverExceedsConcurrency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("in-flight jobs stay at or below the limit", prop.ForAll(
		func(concurrency int, batchSize int) bool {
			provider := newFakeFetchProvider(32)
			for i := 0; i < 3*concurrency; i++ {
				provider.jobs <- testActiveJob("job", 0, 3)
			}

			gate := make(chan struct{})
			worker, err := NewWorker(mustBind(t, provider), func(ctx context.Context, payload []byte, job *ActiveJob) error {
				<-gate
				return nil
			}, &testLogger{}, WorkerConfig{
				Concurrency:  concurrency,
				BatchSize:    batchSize,
				PollInterval: time.Millisecond,
			})
			if err != nil {
				return false
			}
			if err := worker.Start(context.Background()); err != nil {
				return false
			}

			ok := true
			deadline := time.Now().Add(200 * time.Millisecond)
			for time.Now().Before(deadline) {
				if worker.ActiveJobs() > concurrency {
					ok = false
					break
				}
				time.Sleep(time.Millisecond)
			}

			close(gate)
			if err := worker.Close(context.Background()); err != nil {
				return false
			}
			return ok && worker.ActiveJobs() == 0
		},
		gen.IntRange(1, 8),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}
