package logger_test

import (
	"context"
	"fmt"

	"github.com/relayq/relayq/pkg/observability/logger"
)

func ExampleNewZapLogger() {
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("worker started")
	log.Info("job enqueued",
		"job_id", "5f3a9c12",
		"queue", "emails",
		"provider", "redis",
	)
}

func ExampleZapLogger_With() {
	log, _ := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	defer log.Sync()

	// Fields set here appear on every entry the child emits.
	queueLog := log.With("queue", "emails", "provider", "redis")

	queueLog.Info("fetch loop started")
	queueLog.Warn("slow handler detected", "duration_ms", 1500)
}

func ExampleZapLogger_WithContext() {
	log, _ := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	defer log.Sync()

	// The worker stores the job ID on the handler context; WithContext
	// picks it up so every entry carries job_id.
	ctx := logger.ContextWithJobID(context.Background(), "5f3a9c12")
	jobLog := log.WithContext(ctx)

	jobLog.Info("job active")
	jobLog.Info("job completed", "attempts", 1, "status", "completed")
}

func ExampleWrapAsync() {
	base, _ := logger.NewZapLogger(logger.DefaultConfig())
	log := logger.WrapAsync(base, logger.AsyncConfig{
		Enabled:   true,
		QueueSize: 4096,
	})

	log.Info("job enqueued", "queue", "orders")

	// Close drains buffered entries before exit.
	if closer, ok := log.(interface{ Close() }); ok {
		closer.Close()
	}
}

func ExampleParseLogLevel() {
	level, err := logger.ParseLogLevel("debug")
	if err != nil {
		fmt.Printf("invalid log level: %v\n", err)
		return
	}

	log, _ := logger.NewZapLogger(logger.Config{Level: level, Format: logger.JSONFormat})
	defer log.Sync()

	log.Debug("fetch returned no jobs")
}

func ExampleParseLogFormat() {
	format, err := logger.ParseLogFormat("text")
	if err != nil {
		fmt.Printf("invalid log format: %v\n", err)
		return
	}

	log, _ := logger.NewZapLogger(logger.Config{Level: logger.InfoLevel, Format: format})
	defer log.Sync()

	log.Info("console output for local runs")
}
