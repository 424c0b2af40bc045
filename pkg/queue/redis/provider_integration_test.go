package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/testutil"
)

// TestProvider_Integration runs the full job lifecycle against a real
// Redis instance.
func TestProvider_Integration(t *testing.T) {
	testutil.RequireIntegration(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	newProvider := func(t *testing.T, cfg Config) *Provider {
		t.Helper()
		cfg.URL = connStr
		if cfg.Prefix == "" {
			cfg.Prefix = "relayq-test-" + queue.RandomToken()
		}
		p, err := New(cfg, testLogger{})
		if err != nil {
			t.Fatalf("new provider failed: %v", err)
		}
		if err := p.Connect(ctx); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		t.Cleanup(func() { _ = p.Disconnect(ctx) })
		return p
	}

	newJob := func(id string, maxAttempts int) *queue.Job {
		return &queue.Job{
			ID:          id,
			Name:        "work",
			Queue:       "payments",
			Payload:     []byte(`{"order":42}`),
			Status:      queue.StatusWaiting,
			MaxAttempts: maxAttempts,
			CreatedAt:   time.Now().UTC(),
		}
	}

	t.Run("AddFetchAck", func(t *testing.T) {
		p := newProvider(t, Config{})

		if _, err := p.Add(ctx, newJob("j1", 3)); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		jobs, err := p.Fetch(ctx, "payments", 10, 0)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if len(jobs) != 1 {
			t.Fatalf("fetched %d jobs, want 1", len(jobs))
		}
		active := jobs[0]
		if active.Job.Status != queue.StatusActive {
			t.Fatalf("fetched status = %s", active.Job.Status)
		}
		if active.ProviderMetadata[MetadataLeaseToken] == "" {
			t.Fatal("missing lease token")
		}

		if err := p.Ack(ctx, active, nil); err != nil {
			t.Fatalf("ack failed: %v", err)
		}
		if err := p.Ack(ctx, active, nil); err == nil {
			t.Fatal("second ack must fail")
		}

		stats, err := p.Stats(ctx, "payments")
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.Completed != 1 || stats.Waiting != 0 || stats.Active != 0 {
			t.Fatalf("unexpected stats: %+v", stats)
		}
	})

	t.Run("DelayedJobPromotes", func(t *testing.T) {
		p := newProvider(t, Config{})

		job := newJob("delayed-1", 3)
		job.Status = queue.StatusDelayed
		job.ScheduledFor = time.Now().UTC().Add(200 * time.Millisecond)
		if _, err := p.Add(ctx, job); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		jobs, err := p.Fetch(ctx, "payments", 1, 0)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if len(jobs) != 0 {
			t.Fatal("delayed job must not be visible yet")
		}

		jobs, err = p.Fetch(ctx, "payments", 1, 3*time.Second)
		if err != nil {
			t.Fatalf("long-poll fetch failed: %v", err)
		}
		if len(jobs) != 1 || jobs[0].Job.ID != "delayed-1" {
			t.Fatalf("expected promoted job, got %d", len(jobs))
		}
	})

	t.Run("NackRetriesThenDeadLetters", func(t *testing.T) {
		p := newProvider(t, Config{RetryDelay: 50 * time.Millisecond})

		if _, err := p.Add(ctx, newJob("flaky-1", 2)); err != nil {
			t.Fatalf("add failed: %v", err)
		}

		jobs, err := p.Fetch(ctx, "payments", 1, time.Second)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("fetch failed: %v (%d jobs)", err, len(jobs))
		}
		if err := p.Nack(ctx, jobs[0], errors.New("boom")); err != nil {
			t.Fatalf("nack failed: %v", err)
		}

		jobs, err = p.Fetch(ctx, "payments", 1, 5*time.Second)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("retry fetch failed: %v (%d jobs)", err, len(jobs))
		}
		if jobs[0].Job.Attempts != 1 {
			t.Fatalf("attempts = %d, want 1", jobs[0].Job.Attempts)
		}
		if err := p.Nack(ctx, jobs[0], errors.New("boom again")); err != nil {
			t.Fatalf("second nack failed: %v", err)
		}

		entries, err := p.ListDLQ(ctx, "payments", 10)
		if err != nil {
			t.Fatalf("list dlq failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Job.ID != "flaky-1" {
			t.Fatalf("expected one dead-lettered job, got %d", len(entries))
		}
		if entries[0].Reason == "" {
			t.Fatal("dlq entry must record the failure reason")
		}

		replayed, err := p.ReplayDLQ(ctx, "payments", []string{entries[0].ID})
		if err != nil {
			t.Fatalf("replay failed: %v", err)
		}
		if replayed != 1 {
			t.Fatalf("replayed %d entries, want 1", replayed)
		}

		jobs, err = p.Fetch(ctx, "payments", 1, time.Second)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("replayed fetch failed: %v (%d jobs)", err, len(jobs))
		}
		if jobs[0].Job.Attempts != 0 {
			t.Fatalf("replayed job attempts = %d, want 0", jobs[0].Job.Attempts)
		}
	})

	t.Run("PauseResume", func(t *testing.T) {
		p := newProvider(t, Config{})

		if _, err := p.Add(ctx, newJob("paused-1", 3)); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if err := p.Pause(ctx, "payments"); err != nil {
			t.Fatalf("pause failed: %v", err)
		}
		jobs, err := p.Fetch(ctx, "payments", 1, 0)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if len(jobs) != 0 {
			t.Fatal("paused queue must not hand out work")
		}
		if err := p.Resume(ctx, "payments"); err != nil {
			t.Fatalf("resume failed: %v", err)
		}
		jobs, err = p.Fetch(ctx, "payments", 1, 0)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("fetch after resume failed: %v (%d jobs)", err, len(jobs))
		}
	})

	t.Run("ExpiredLeaseCannotSettle", func(t *testing.T) {
		p := newProvider(t, Config{LeaseTTL: 200 * time.Millisecond})

		if _, err := p.Add(ctx, newJob("slow-1", 3)); err != nil {
			t.Fatalf("add failed: %v", err)
		}
		jobs, err := p.Fetch(ctx, "payments", 1, time.Second)
		if err != nil || len(jobs) != 1 {
			t.Fatalf("fetch failed: %v (%d jobs)", err, len(jobs))
		}
		active := jobs[0]

		// Let the lease expire without settling.
		time.Sleep(300 * time.Millisecond)

		err = p.Ack(ctx, active, nil)
		if qerr, ok := queue.AsError(err); !ok || qerr.Code != queue.CodeUnknownLease {
			t.Fatalf("ack after expiry should report %s, got %v", queue.CodeUnknownLease, err)
		}
	})

	t.Run("Health", func(t *testing.T) {
		p := newProvider(t, Config{})
		health, err := p.Health(ctx)
		if err != nil {
			t.Fatalf("health failed: %v", err)
		}
		if !health.Connected || health.Latency <= 0 {
			t.Fatalf("unexpected health: %+v", health)
		}
	})
}
