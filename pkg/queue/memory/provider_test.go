package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)                      {}
func (nopLogger) Info(string, ...any)                       {}
func (nopLogger) Warn(string, ...any)                       {}
func (nopLogger) Error(string, ...any)                      {}
func (nopLogger) With(...any) logger.Logger                 { return nopLogger{} }
func (nopLogger) WithContext(context.Context) logger.Logger { return nopLogger{} }

func newConnected(t *testing.T, cfg Config) *Provider {
	t.Helper()
	p, err := New(cfg, nopLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Disconnect(context.Background()) })
	return p
}

func testJob(id, queueName string) *queue.Job {
	return &queue.Job{
		ID:          id,
		Name:        "work",
		Queue:       queueName,
		Payload:     []byte(`{"n":1}`),
		Status:      queue.StatusWaiting,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
}

func mustAdd(t *testing.T, p *Provider, job *queue.Job) *queue.Job {
	t.Helper()
	stored, err := p.Add(context.Background(), job)
	if err != nil {
		t.Fatalf("add %s failed: %v", job.ID, err)
	}
	return stored
}

func mustFetchOne(t *testing.T, p *Provider, queueName string) *queue.ActiveJob {
	t.Helper()
	jobs, err := p.Fetch(context.Background(), queueName, 1, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("fetched %d jobs, want 1", len(jobs))
	}
	return jobs[0]
}

func TestRequiresConnect(t *testing.T) {
	p, err := New(Config{}, nopLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}
	_, err = p.Add(context.Background(), testJob("j1", "work"))
	if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeNotConnected {
		t.Fatalf("expected %s, got %v", queue.CodeNotConnected, err)
	}
}

func TestAddFetchAck(t *testing.T) {
	p := newConnected(t, Config{})
	mustAdd(t, p, testJob("j1", "work"))

	active := mustFetchOne(t, p, "work")
	if active.Job.Status != queue.StatusActive {
		t.Fatalf("fetched job status = %s, want %s", active.Job.Status, queue.StatusActive)
	}
	if active.ProviderMetadata[MetadataLeaseToken] == "" {
		t.Fatal("fetched job must carry a lease token")
	}

	if err := p.Ack(context.Background(), active, nil); err != nil {
		t.Fatalf("ack failed: %v", err)
	}

	stats, err := p.Stats(context.Background(), "work")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Completed != 1 || stats.Active != 0 || stats.Waiting != 0 {
		t.Fatalf("unexpected stats after ack: %+v", stats)
	}
}

func TestDuplicateJobIDRejected(t *testing.T) {
	p := newConnected(t, Config{})
	mustAdd(t, p, testJob("j1", "work"))

	_, err := p.Add(context.Background(), testJob("j1", "work"))
	if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeDuplicateJob {
		t.Fatalf("expected %s, got %v", queue.CodeDuplicateJob, err)
	}
}

func TestFetchOrdersByPriorityThenArrival(t *testing.T) {
	p := newConnected(t, Config{})

	low := testJob("low", "work")
	first := testJob("first", "work")
	second := testJob("second", "work")
	urgent := testJob("urgent", "work")
	urgent.Priority = 5

	mustAdd(t, p, low)
	mustAdd(t, p, first)
	mustAdd(t, p, second)
	mustAdd(t, p, urgent)

	jobs, err := p.Fetch(context.Background(), "work", 4, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	got := make([]string, 0, len(jobs))
	for _, j := range jobs {
		got = append(got, j.Job.ID)
	}
	want := []string{"urgent", "low", "first", "second"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("fetch order = %v, want %v", got, want)
		}
	}
}

func TestDelayedJobPromotesWhenDue(t *testing.T) {
	p := newConnected(t, Config{})

	job := testJob("later", "work")
	job.Status = queue.StatusDelayed
	job.ScheduledFor = time.Now().UTC().Add(30 * time.Millisecond)
	mustAdd(t, p, job)

	jobs, err := p.Fetch(context.Background(), "work", 1, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatal("job must not be visible before its schedule")
	}

	jobs, err = p.Fetch(context.Background(), "work", 1, time.Second)
	if err != nil {
		t.Fatalf("long-poll fetch failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Job.ID != "later" {
		t.Fatalf("expected promoted job, got %v", jobs)
	}
}

func TestNackReschedulesUntilExhausted(t *testing.T) {
	p := newConnected(t, Config{RetryDelay: time.Millisecond})

	job := testJob("flaky", "work")
	job.MaxAttempts = 2
	mustAdd(t, p, job)

	active := mustFetchOne(t, p, "work")
	if err := p.Nack(context.Background(), active, errors.New("boom")); err != nil {
		t.Fatalf("nack failed: %v", err)
	}

	// First failure leaves one attempt, so the job comes back.
	retried := fetchWithin(t, p, "work", time.Second)
	if retried.Job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", retried.Job.Attempts)
	}
	if retried.Job.Error == "" {
		t.Fatal("retried job should carry the last error")
	}

	if err := p.Nack(context.Background(), retried, errors.New("boom again")); err != nil {
		t.Fatalf("second nack failed: %v", err)
	}

	stats, err := p.Stats(context.Background(), "work")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Failed != 1 || stats.Waiting != 0 || stats.Delayed != 0 {
		t.Fatalf("exhausted job should be counted failed: %+v", stats)
	}
}

func TestDoubleSettleRejected(t *testing.T) {
	p := newConnected(t, Config{})
	mustAdd(t, p, testJob("j1", "work"))

	active := mustFetchOne(t, p, "work")
	if err := p.Ack(context.Background(), active, nil); err != nil {
		t.Fatalf("first ack failed: %v", err)
	}

	err := p.Ack(context.Background(), active, nil)
	if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeUnknownLease {
		t.Fatalf("second ack should report %s, got %v", queue.CodeUnknownLease, err)
	}
	err = p.Nack(context.Background(), active, errors.New("late"))
	if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeUnknownLease {
		t.Fatalf("nack after ack should report %s, got %v", queue.CodeUnknownLease, err)
	}
}

func TestLeaseExpiryRequeues(t *testing.T) {
	p := newConnected(t, Config{LeaseTTL: 20 * time.Millisecond})
	mustAdd(t, p, testJob("slow", "work"))

	mustFetchOne(t, p, "work")

	requeued := fetchWithin(t, p, "work", time.Second)
	if requeued.Job.ID != "slow" || requeued.Job.Attempts != 1 {
		t.Fatalf("expired lease should requeue with one attempt burned: %+v", requeued.Job)
	}
}

func TestPauseAndResume(t *testing.T) {
	p := newConnected(t, Config{})
	mustAdd(t, p, testJob("j1", "work"))

	if err := p.Pause(context.Background(), "work"); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	jobs, err := p.Fetch(context.Background(), "work", 1, 0)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatal("paused queue must not hand out work")
	}

	if err := p.Resume(context.Background(), "work"); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	mustFetchOne(t, p, "work")
}

func TestDeleteQueue(t *testing.T) {
	p := newConnected(t, Config{})
	mustAdd(t, p, testJob("j1", "work"))

	if err := p.Delete(context.Background(), "work"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	err := p.Delete(context.Background(), "work")
	if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeQueueNotFound {
		t.Fatalf("deleting a missing queue should report %s, got %v", queue.CodeQueueNotFound, err)
	}
}

func TestFetchHonorsContextCancel(t *testing.T) {
	p := newConnected(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Fetch(ctx, "empty", 1, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestProcessDispatchesAndShutsDown(t *testing.T) {
	p := newConnected(t, Config{})
	for _, id := range []string{"a", "b", "c"} {
		mustAdd(t, p, testJob(id, "work"))
	}

	var handled atomic.Int64
	shutdown, err := p.Process(context.Background(), "work", func(ctx context.Context, payload []byte, job *queue.ActiveJob) error {
		handled.Add(1)
		return p.Ack(ctx, job, nil)
	}, queue.ProcessOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("handled %d jobs, want 3", handled.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func fetchWithin(t *testing.T, p *Provider, queueName string, wait time.Duration) *queue.ActiveJob {
	t.Helper()
	jobs, err := p.Fetch(context.Background(), queueName, 1, wait)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("fetched %d jobs within %s, want 1", len(jobs), wait)
	}
	return jobs[0]
}
