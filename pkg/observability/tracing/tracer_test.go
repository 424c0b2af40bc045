package tracing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{
		ServiceName: "relayq-worker",
	})
	if err != nil {
		t.Fatalf("disabled tracing must not error: %v", err)
	}

	// A disabled provider still hands out working tracers; the spans just
	// have no exporter behind them.
	_, span := provider.Tracer("worker").Start(context.Background(), "job dispatch")
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

func TestNewTracerProviderValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  TracerConfig
		wantErr string
	}{
		{
			name:    "missing service name",
			config:  TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			wantErr: "service name is required",
		},
		{
			name:    "missing endpoint",
			config:  TracerConfig{Enabled: true, ServiceName: "relayq-worker"},
			wantErr: "OTLP endpoint is required",
		},
		{
			name: "negative sample rate",
			config: TracerConfig{
				Enabled: true, ServiceName: "relayq-worker",
				Endpoint: "localhost:4317", SampleRate: -0.1,
			},
			wantErr: "sample rate must be between 0 and 1",
		},
		{
			name: "sample rate above one",
			config: TracerConfig{
				Enabled: true, ServiceName: "relayq-worker",
				Endpoint: "localhost:4317", SampleRate: 1.5,
			},
			wantErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSampleRateBounds(t *testing.T) {
	for _, rate := range []float64{0, 0.01, 0.5, 1} {
		t.Run(fmt.Sprintf("rate=%v", rate), func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), TracerConfig{
				ServiceName: "relayq-worker",
				SampleRate:  rate,
			})
			if err != nil {
				t.Errorf("rate %v rejected: %v", rate, err)
			}
		})
	}
}

func TestShutdownAndFlushWithoutExporter(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "relayq-worker"})
	if err != nil {
		t.Fatalf("new provider failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := provider.ForceFlush(ctx); err != nil {
		t.Errorf("flush failed: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
