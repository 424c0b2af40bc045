package factory

import (
	"context"
	"testing"

	"github.com/relayq/relayq/pkg/config"
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

func TestNewProviderSelectsBackend(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.ProviderConfig
		want string
	}{
		{
			name: "empty type defaults to memory",
			cfg:  config.ProviderConfig{},
			want: "memory",
		},
		{
			name: "memory",
			cfg:  config.ProviderConfig{Type: "memory"},
			want: "memory",
		},
		{
			name: "redis",
			cfg: config.ProviderConfig{
				Type:  "redis",
				Redis: config.RedisConfig{URL: "redis://localhost:6379"},
			},
			want: "redis",
		},
		{
			name: "sqs",
			cfg: config.ProviderConfig{
				Type: "SQS",
				SQS:  config.SQSConfig{Region: "eu-west-1"},
			},
			want: "sqs",
		},
		{
			name: "rabbitmq",
			cfg: config.ProviderConfig{
				Type:     "rabbitmq",
				RabbitMQ: config.RabbitMQConfig{URL: "amqp://localhost"},
			},
			want: "rabbitmq",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewProvider(tc.cfg, testLogger{})
			if err != nil {
				t.Fatalf("new provider failed: %v", err)
			}
			if provider.Name() != tc.want {
				t.Fatalf("provider name = %s, want %s", provider.Name(), tc.want)
			}
		})
	}
}

func TestNewProviderRejectsUnknownType(t *testing.T) {
	_, err := NewProvider(config.ProviderConfig{Type: "kafka"}, testLogger{})
	if !queue.IsKind(err, queue.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
