package rabbitmq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any)                      {}
func (testLogger) Info(string, ...any)                       {}
func (testLogger) Warn(string, ...any)                       {}
func (testLogger) Error(string, ...any)                      {}
func (testLogger) With(...any) logger.Logger                 { return testLogger{} }
func (testLogger) WithContext(context.Context) logger.Logger { return testLogger{} }

func TestConfigNormalize(t *testing.T) {
	cfg := Config{URL: "amqp://localhost"}
	cfg.normalize()

	if cfg.OperationTimeout <= 0 {
		t.Fatal("expected positive operation timeout")
	}
	if cfg.RetryDelay <= 0 {
		t.Fatal("expected positive retry delay")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{URL: "amqp://localhost"}, nil); err == nil {
		t.Fatal("expected logger validation error")
	}
	if _, err := New(Config{}, testLogger{}); !queue.IsKind(err, queue.KindConfiguration) {
		t.Fatal("expected configuration error for missing url")
	}
}

func TestCapabilities(t *testing.T) {
	p, err := New(Config{URL: "amqp://localhost"}, testLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}
	caps := p.Capabilities()

	if !caps.Priority || !caps.Retries || !caps.DLQ {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	if caps.DelayedJobs || caps.Batching {
		t.Fatalf("rabbitmq declares neither delays nor batch fetch: %+v", caps)
	}
}

func TestPauseResumeNotSupported(t *testing.T) {
	p, err := New(Config{URL: "amqp://localhost"}, testLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	for _, err := range []error{
		p.Pause(context.Background(), "work"),
		p.Resume(context.Background(), "work"),
	} {
		qerr, ok := queue.AsError(err)
		if !ok || qerr.Code != queue.CodeNotSupported {
			t.Fatalf("expected %s, got %v", queue.CodeNotSupported, err)
		}
	}
}

func TestOperationsRequireConnect(t *testing.T) {
	p, err := New(Config{URL: "amqp://localhost"}, testLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	job := &queue.Job{
		ID: "j1", Name: "work", Queue: "payments",
		Payload: []byte(`{}`), Status: queue.StatusWaiting, MaxAttempts: 3,
	}
	_, addErr := p.Add(context.Background(), job)
	if qerr, ok := queue.AsError(addErr); !ok || qerr.Code != queue.CodeNotConnected {
		t.Fatalf("add should require connect, got %v", addErr)
	}

	health, err := p.Health(context.Background())
	if err != nil {
		t.Fatalf("health failed: %v", err)
	}
	if health.Connected {
		t.Fatal("health must report disconnected before connect")
	}
}

func TestPopDeliveryUnknownToken(t *testing.T) {
	p, err := New(Config{URL: "amqp://localhost"}, testLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	if _, err := p.popDelivery(nil); !queue.IsKind(err, queue.KindData) {
		t.Fatalf("nil active should be a data error, got %v", err)
	}

	active := &queue.ActiveJob{
		Job:              &queue.Job{ID: "j1", Queue: "payments"},
		ProviderMetadata: map[string]string{},
	}
	_, popErr := p.popDelivery(active)
	if qerr, ok := queue.AsError(popErr); !ok || qerr.Code != queue.CodeUnknownLease {
		t.Fatalf("missing token should report %s, got %v", queue.CodeUnknownLease, popErr)
	}

	active.ProviderMetadata[MetadataDeliveryToken] = "no-such-token"
	_, popErr = p.popDelivery(active)
	if qerr, ok := queue.AsError(popErr); !ok || qerr.Code != queue.CodeUnknownLease {
		t.Fatalf("unknown token should report %s, got %v", queue.CodeUnknownLease, popErr)
	}
}

func TestRegisterDelivery(t *testing.T) {
	p, err := New(Config{URL: "amqp://localhost"}, testLogger{})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	_, regErr := p.registerDelivery("payments", amqp.Delivery{Body: []byte("not json")})
	if !queue.IsKind(regErr, queue.KindData) {
		t.Fatalf("malformed body should be a data error, got %v", regErr)
	}

	body := []byte(`{"job":{"id":"j1","name":"work","queue":"","payload":"e30=","status":"waiting","max_attempts":3}}`)
	active, regErr := p.registerDelivery("payments", amqp.Delivery{
		Body:    body,
		Headers: amqp.Table{headerAttempts: int32(2)},
	})
	if regErr != nil {
		t.Fatalf("register failed: %v", regErr)
	}
	if active.Job.Queue != "payments" {
		t.Fatalf("queue backfill failed: %s", active.Job.Queue)
	}
	if active.Job.Attempts != 2 {
		t.Fatalf("attempts from header = %d, want 2", active.Job.Attempts)
	}
	if active.Job.Status != queue.StatusActive {
		t.Fatalf("status = %s, want %s", active.Job.Status, queue.StatusActive)
	}
	if active.ProviderMetadata[MetadataDeliveryToken] == "" {
		t.Fatal("delivery must carry a token")
	}

	if _, err := p.popDelivery(active); err != nil {
		t.Fatalf("pop registered delivery failed: %v", err)
	}
}

func TestClampPriority(t *testing.T) {
	cases := []struct {
		in   int
		want uint8
	}{
		{-3, 0},
		{0, 0},
		{7, 7},
		{10, 10},
		{42, 10},
	}
	for _, tc := range cases {
		if got := clampPriority(tc.in); got != tc.want {
			t.Fatalf("clampPriority(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
