// Package config defines the relayq configuration surface and a Viper
// loader with precedence env > file > defaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Provider backend identifiers.
const (
	ProviderMemory   = "memory"
	ProviderRedis    = "redis"
	ProviderSQS      = "sqs"
	ProviderRabbitMQ = "rabbitmq"
)

// Config is the root configuration for a relayq process.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Provider ProviderConfig `mapstructure:"provider"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ProviderConfig selects and configures the queue backend.
type ProviderConfig struct {
	Type     string         `mapstructure:"type"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQS      SQSConfig      `mapstructure:"sqs"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// MemoryConfig configures the in-process backend.
type MemoryConfig struct {
	LeaseTTL   time.Duration `mapstructure:"lease_ttl"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	Prefix           string        `mapstructure:"prefix"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	LeaseTTL         time.Duration `mapstructure:"lease_ttl"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay    time.Duration `mapstructure:"max_retry_delay"`
	DLQSuffix        string        `mapstructure:"dlq_suffix"`
}

// SQSConfig configures the AWS SQS backend.
type SQSConfig struct {
	Region            string        `mapstructure:"region"`
	Endpoint          string        `mapstructure:"endpoint"`
	AccessKeyID       string        `mapstructure:"access_key_id"`
	SecretAccessKey   string        `mapstructure:"secret_access_key"`
	SessionToken      string        `mapstructure:"session_token"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
	VisibilityTimeout int32         `mapstructure:"visibility_timeout"`
	RetryDelaySeconds int32         `mapstructure:"retry_delay_seconds"`
}

// RabbitMQConfig configures the RabbitMQ backend.
type RabbitMQConfig struct {
	URL              string        `mapstructure:"url"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConsumerTag      string        `mapstructure:"consumer_tag"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
}

// WorkerConfig tunes the processing engine.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	BatchSize      int           `mapstructure:"batch_size"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`
	FetchWait      time.Duration `mapstructure:"fetch_wait"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout"`
}

// QueueConfig tunes enqueue defaults.
type QueueConfig struct {
	DefaultMaxAttempts int `mapstructure:"default_max_attempts"`
}

// LoggingConfig configures structured logging. Async dispatch moves log
// writes off the worker goroutines at the cost of losing buffered entries
// on a hard crash.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	Async          bool   `mapstructure:"async"`
	AsyncQueueSize int    `mapstructure:"async_queue_size"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

// DefaultConfig returns the baseline configuration before file and env
// overrides.
func DefaultConfig() Config {
	return Config{
		Service: ServiceConfig{
			Name:        "relayq",
			Environment: "development",
		},
		Provider: ProviderConfig{
			Type: ProviderMemory,
			Memory: MemoryConfig{
				LeaseTTL:   30 * time.Second,
				RetryDelay: time.Second,
			},
			Redis: RedisConfig{
				Prefix:           "relayq",
				OperationTimeout: 5 * time.Second,
				LeaseTTL:         30 * time.Second,
				RetryDelay:       time.Second,
				MaxRetryDelay:    5 * time.Minute,
				DLQSuffix:        ":dead",
			},
			SQS: SQSConfig{
				OperationTimeout:  30 * time.Second,
				VisibilityTimeout: 30,
			},
			RabbitMQ: RabbitMQConfig{
				OperationTimeout: 30 * time.Second,
				RetryDelay:       5 * time.Second,
			},
		},
		Worker: WorkerConfig{
			Concurrency:  1,
			BatchSize:    1,
			PollInterval: 100 * time.Millisecond,
			ErrorBackoff: time.Second,
			CloseTimeout: 30 * time.Second,
		},
		Queue: QueueConfig{
			DefaultMaxAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			AsyncQueueSize: 1024,
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
	}
}

// Validate checks cross-field consistency before the config is used.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Provider.Type)) {
	case ProviderMemory:
	case ProviderRedis:
		if strings.TrimSpace(c.Provider.Redis.URL) == "" {
			return fmt.Errorf("provider.redis.url is required when provider.type is %s", ProviderRedis)
		}
	case ProviderSQS:
		if strings.TrimSpace(c.Provider.SQS.Region) == "" {
			return fmt.Errorf("provider.sqs.region is required when provider.type is %s", ProviderSQS)
		}
	case ProviderRabbitMQ:
		if strings.TrimSpace(c.Provider.RabbitMQ.URL) == "" {
			return fmt.Errorf("provider.rabbitmq.url is required when provider.type is %s", ProviderRabbitMQ)
		}
	default:
		return fmt.Errorf("unsupported provider.type %q (supported: %s, %s, %s, %s)",
			c.Provider.Type, ProviderMemory, ProviderRedis, ProviderSQS, ProviderRabbitMQ)
	}

	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("worker.concurrency must not be negative")
	}
	if c.Worker.BatchSize < 0 {
		return fmt.Errorf("worker.batch_size must not be negative")
	}
	if c.Queue.DefaultMaxAttempts < 1 {
		return fmt.Errorf("queue.default_max_attempts must be at least 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported logging.level %q", c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "json", "text", "console":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}
	if c.Logging.AsyncQueueSize < 0 {
		return fmt.Errorf("logging.async_queue_size must not be negative")
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}
