// Package factory builds queue providers from configuration.
package factory

import (
	"strings"

	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/queue/memory"
	"github.com/relayq/relayq/pkg/queue/rabbitmq"
	"github.com/relayq/relayq/pkg/queue/redis"
	"github.com/relayq/relayq/pkg/queue/sqs"
)

// NewProvider creates the provider selected by cfg.Type. The provider is
// constructed but not connected; callers own Connect and Disconnect.
func NewProvider(cfg config.ProviderConfig, log logger.Logger) (queue.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", config.ProviderMemory:
		return memory.New(memory.Config{
			LeaseTTL:   cfg.Memory.LeaseTTL,
			RetryDelay: cfg.Memory.RetryDelay,
		}, log)
	case config.ProviderRedis:
		return redis.New(redis.Config{
			URL:              cfg.Redis.URL,
			Prefix:           cfg.Redis.Prefix,
			OperationTimeout: cfg.Redis.OperationTimeout,
			LeaseTTL:         cfg.Redis.LeaseTTL,
			RetryDelay:       cfg.Redis.RetryDelay,
			MaxRetryDelay:    cfg.Redis.MaxRetryDelay,
			DLQSuffix:        cfg.Redis.DLQSuffix,
		}, log)
	case config.ProviderSQS:
		return sqs.New(sqs.Config{
			Region:            cfg.SQS.Region,
			Endpoint:          cfg.SQS.Endpoint,
			AccessKeyID:       cfg.SQS.AccessKeyID,
			SecretAccessKey:   cfg.SQS.SecretAccessKey,
			SessionToken:      cfg.SQS.SessionToken,
			OperationTimeout:  cfg.SQS.OperationTimeout,
			VisibilityTimeout: cfg.SQS.VisibilityTimeout,
			RetryDelaySeconds: cfg.SQS.RetryDelaySeconds,
		}, log)
	case config.ProviderRabbitMQ:
		return rabbitmq.New(rabbitmq.Config{
			URL:              cfg.RabbitMQ.URL,
			OperationTimeout: cfg.RabbitMQ.OperationTimeout,
			ConsumerTag:      cfg.RabbitMQ.ConsumerTag,
			RetryDelay:       cfg.RabbitMQ.RetryDelay,
		}, log)
	default:
		return nil, queue.NewConfigurationError(queue.CodeInvalidConfig,
			"unsupported provider.type "+cfg.Type+" (supported: memory, redis, sqs, rabbitmq)", nil)
	}
}
