package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader loads and validates configuration.
type Loader interface {
	Load() (*Config, error)
}

// ViperLoader implements Loader with precedence env > file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to RELAYQ.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	if strings.TrimSpace(envPrefix) == "" {
		envPrefix = "RELAYQ"
	}
	return &ViperLoader{
		configFile: strings.TrimSpace(configFile),
		envPrefix:  envPrefix,
	}
}

// Load reads defaults, the optional config file, and env overrides, then
// validates the result.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v)

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s failed: %w", l.configFile, err)
		}
	}

	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("service.name", defaults.Service.Name)
	v.SetDefault("service.environment", defaults.Service.Environment)

	v.SetDefault("provider.type", defaults.Provider.Type)
	v.SetDefault("provider.memory.lease_ttl", defaults.Provider.Memory.LeaseTTL)
	v.SetDefault("provider.memory.retry_delay", defaults.Provider.Memory.RetryDelay)
	v.SetDefault("provider.redis.prefix", defaults.Provider.Redis.Prefix)
	v.SetDefault("provider.redis.operation_timeout", defaults.Provider.Redis.OperationTimeout)
	v.SetDefault("provider.redis.lease_ttl", defaults.Provider.Redis.LeaseTTL)
	v.SetDefault("provider.redis.retry_delay", defaults.Provider.Redis.RetryDelay)
	v.SetDefault("provider.redis.max_retry_delay", defaults.Provider.Redis.MaxRetryDelay)
	v.SetDefault("provider.redis.dlq_suffix", defaults.Provider.Redis.DLQSuffix)
	v.SetDefault("provider.sqs.operation_timeout", defaults.Provider.SQS.OperationTimeout)
	v.SetDefault("provider.sqs.visibility_timeout", defaults.Provider.SQS.VisibilityTimeout)
	v.SetDefault("provider.rabbitmq.operation_timeout", defaults.Provider.RabbitMQ.OperationTimeout)
	v.SetDefault("provider.rabbitmq.retry_delay", defaults.Provider.RabbitMQ.RetryDelay)

	v.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	v.SetDefault("worker.batch_size", defaults.Worker.BatchSize)
	v.SetDefault("worker.poll_interval", defaults.Worker.PollInterval)
	v.SetDefault("worker.error_backoff", defaults.Worker.ErrorBackoff)
	v.SetDefault("worker.fetch_wait", defaults.Worker.FetchWait)
	v.SetDefault("worker.handler_timeout", defaults.Worker.HandlerTimeout)
	v.SetDefault("worker.close_timeout", defaults.Worker.CloseTimeout)

	v.SetDefault("queue.default_max_attempts", defaults.Queue.DefaultMaxAttempts)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.async", defaults.Logging.Async)
	v.SetDefault("logging.async_queue_size", defaults.Logging.AsyncQueueSize)

	v.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", defaults.Tracing.Endpoint)
	v.SetDefault("tracing.sample_ratio", defaults.Tracing.SampleRatio)
	v.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
}

// bindEnvVars binds each nested key explicitly so env overrides reach
// struct fields without relying on AutomaticEnv key guessing.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixed("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixed("SERVICE_ENVIRONMENT"))

	v.BindEnv("provider.type", l.prefixed("PROVIDER_TYPE"))
	v.BindEnv("provider.memory.lease_ttl", l.prefixed("MEMORY_LEASE_TTL"))
	v.BindEnv("provider.memory.retry_delay", l.prefixed("MEMORY_RETRY_DELAY"))
	v.BindEnv("provider.redis.url", l.prefixed("REDIS_URL"))
	v.BindEnv("provider.redis.prefix", l.prefixed("REDIS_PREFIX"))
	v.BindEnv("provider.redis.operation_timeout", l.prefixed("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("provider.redis.lease_ttl", l.prefixed("REDIS_LEASE_TTL"))
	v.BindEnv("provider.redis.retry_delay", l.prefixed("REDIS_RETRY_DELAY"))
	v.BindEnv("provider.redis.max_retry_delay", l.prefixed("REDIS_MAX_RETRY_DELAY"))
	v.BindEnv("provider.redis.dlq_suffix", l.prefixed("REDIS_DLQ_SUFFIX"))
	v.BindEnv("provider.sqs.region", l.prefixed("SQS_REGION"))
	v.BindEnv("provider.sqs.endpoint", l.prefixed("SQS_ENDPOINT"))
	v.BindEnv("provider.sqs.access_key_id", l.prefixed("SQS_ACCESS_KEY_ID"))
	v.BindEnv("provider.sqs.secret_access_key", l.prefixed("SQS_SECRET_ACCESS_KEY"))
	v.BindEnv("provider.sqs.session_token", l.prefixed("SQS_SESSION_TOKEN"))
	v.BindEnv("provider.sqs.operation_timeout", l.prefixed("SQS_OPERATION_TIMEOUT"))
	v.BindEnv("provider.sqs.visibility_timeout", l.prefixed("SQS_VISIBILITY_TIMEOUT"))
	v.BindEnv("provider.sqs.retry_delay_seconds", l.prefixed("SQS_RETRY_DELAY_SECONDS"))
	v.BindEnv("provider.rabbitmq.url", l.prefixed("RABBITMQ_URL"))
	v.BindEnv("provider.rabbitmq.operation_timeout", l.prefixed("RABBITMQ_OPERATION_TIMEOUT"))
	v.BindEnv("provider.rabbitmq.consumer_tag", l.prefixed("RABBITMQ_CONSUMER_TAG"))
	v.BindEnv("provider.rabbitmq.retry_delay", l.prefixed("RABBITMQ_RETRY_DELAY"))

	v.BindEnv("worker.concurrency", l.prefixed("WORKER_CONCURRENCY"))
	v.BindEnv("worker.batch_size", l.prefixed("WORKER_BATCH_SIZE"))
	v.BindEnv("worker.poll_interval", l.prefixed("WORKER_POLL_INTERVAL"))
	v.BindEnv("worker.error_backoff", l.prefixed("WORKER_ERROR_BACKOFF"))
	v.BindEnv("worker.fetch_wait", l.prefixed("WORKER_FETCH_WAIT"))
	v.BindEnv("worker.handler_timeout", l.prefixed("WORKER_HANDLER_TIMEOUT"))
	v.BindEnv("worker.close_timeout", l.prefixed("WORKER_CLOSE_TIMEOUT"))

	v.BindEnv("queue.default_max_attempts", l.prefixed("QUEUE_DEFAULT_MAX_ATTEMPTS"))

	v.BindEnv("logging.level", l.prefixed("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixed("LOG_FORMAT"))
	v.BindEnv("logging.async", l.prefixed("LOG_ASYNC"))
	v.BindEnv("logging.async_queue_size", l.prefixed("LOG_ASYNC_QUEUE_SIZE"))

	v.BindEnv("tracing.enabled", l.prefixed("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixed("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_ratio", l.prefixed("TRACING_SAMPLE_RATIO"))
	v.BindEnv("tracing.service_name", l.prefixed("TRACING_SERVICE_NAME"))
}

func (l *ViperLoader) prefixed(name string) string {
	return l.envPrefix + "_" + name
}
