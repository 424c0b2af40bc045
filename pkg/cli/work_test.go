package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
)

type nopLogger struct{}

func (l *nopLogger) Debug(string, ...any) {}
func (l *nopLogger) Info(string, ...any)  {}
func (l *nopLogger) Warn(string, ...any)  {}
func (l *nopLogger) Error(string, ...any) {}
func (l *nopLogger) With(...any) logger.Logger {
	return l
}
func (l *nopLogger) WithContext(context.Context) logger.Logger {
	return l
}

func TestDispatchByName(t *testing.T) {
	var payloads []string
	handlers := map[string]queue.Handler{
		"send-email": func(ctx context.Context, payload []byte, job *queue.ActiveJob) error {
			payloads = append(payloads, string(payload))
			return nil
		},
		"charge-card": func(ctx context.Context, payload []byte, job *queue.ActiveJob) error {
			return errors.New("declined")
		},
	}
	dispatch := dispatchByName(handlers)

	activeFor := func(name string) *queue.ActiveJob {
		return &queue.ActiveJob{Job: &queue.Job{ID: "j1", Name: name, Queue: "work"}}
	}

	if err := dispatch(context.Background(), []byte(`{"to":"a"}`), activeFor("send-email")); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(payloads) != 1 || payloads[0] != `{"to":"a"}` {
		t.Fatalf("handler did not receive the payload: %v", payloads)
	}

	if err := dispatch(context.Background(), nil, activeFor("charge-card")); err == nil {
		t.Fatal("handler error must propagate")
	}

	err := dispatch(context.Background(), nil, activeFor("unknown"))
	if !queue.IsKind(err, queue.KindData) {
		t.Fatalf("unregistered job name should be a data error, got %v", err)
	}
}

func TestSetupTracingDisabledIsNoop(t *testing.T) {
	cfg := config.DefaultConfig()

	stop, err := setupTracing(context.Background(), &cfg, &nopLogger{})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	stop()
}

func TestSetupTracingInstallsGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	cfg := config.DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"

	stop, err := setupTracing(context.Background(), &cfg, &nopLogger{})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	defer stop()

	// The default global provider hands out no-op spans with invalid
	// contexts; a real span context proves the provider was installed.
	_, span := otel.Tracer("work-test").Start(context.Background(), "dispatch")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("global tracer still produces no-op spans with tracing enabled")
	}
}

func TestSetupTracingRejectsMissingEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tracing.Enabled = true

	if _, err := setupTracing(context.Background(), &cfg, &nopLogger{}); err == nil {
		t.Fatal("expected an error without an endpoint")
	}
}

func TestInstrumentPreservesStatus(t *testing.T) {
	handler := instrument("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
