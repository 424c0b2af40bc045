package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayq/relayq/pkg/config"
	"github.com/relayq/relayq/pkg/health"
	"github.com/relayq/relayq/pkg/observability/logger"
	"github.com/relayq/relayq/pkg/observability/metrics"
	"github.com/relayq/relayq/pkg/observability/tracing"
	"github.com/relayq/relayq/pkg/queue"
	"github.com/relayq/relayq/pkg/version"
)

const (
	healthCheckTimeout     = 2 * time.Second
	tracingShutdownTimeout = 5 * time.Second
)

func newWorkCommand(env *commandEnv) *cobra.Command {
	var (
		queueName   string
		concurrency int
		mgmtAddr    string
	)

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Process jobs from a queue until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := env.load()
			if err != nil {
				return err
			}
			if closer, ok := log.(interface{ Close() }); ok {
				defer closer.Close()
			}
			if len(env.opts.Handlers) == 0 {
				return fmt.Errorf("no job handlers registered")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stopTracing, err := setupTracing(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer stopTracing()

			provider, err := env.connectProvider(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer provider.Disconnect(context.Background())

			bound, err := queue.Bind(provider, queueName)
			if err != nil {
				return err
			}
			workerCfg := queue.WorkerConfig{
				Concurrency:    cfg.Worker.Concurrency,
				BatchSize:      cfg.Worker.BatchSize,
				PollInterval:   cfg.Worker.PollInterval,
				ErrorBackoff:   cfg.Worker.ErrorBackoff,
				FetchWait:      cfg.Worker.FetchWait,
				HandlerTimeout: cfg.Worker.HandlerTimeout,
			}
			if concurrency > 0 {
				workerCfg.Concurrency = concurrency
			}

			worker, err := queue.NewWorker(bound, dispatchByName(env.opts.Handlers), log, workerCfg)
			if err != nil {
				return err
			}
			worker.Subscribe(logEvents(log))

			mgmt := startManagementServer(mgmtAddr, provider, log)
			defer shutdownManagementServer(mgmt, log)

			if err := worker.Start(ctx); err != nil {
				return err
			}
			log.Info("processing jobs", "queue", queueName)
			<-ctx.Done()

			closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.CloseTimeout+time.Second)
			defer cancel()
			return worker.CloseWithOptions(closeCtx, queue.CloseOptions{
				Timeout:          cfg.Worker.CloseTimeout,
				FinishActiveJobs: true,
			})
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "queue to process (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override worker.concurrency")
	cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":9090", "management listen address (/metrics, /healthz); empty disables")
	_ = cmd.MarkFlagRequired("queue")
	return cmd
}

// setupTracing installs the OTLP tracer provider as the global provider
// when tracing is enabled, so the worker's messaging spans are exported.
// The returned stop function flushes pending spans; it is a no-op when
// tracing is disabled.
func setupTracing(ctx context.Context, cfg *config.Config, log logger.Logger) (func(), error) {
	if !cfg.Tracing.Enabled {
		return func() {}, nil
	}

	serviceName := strings.TrimSpace(cfg.Tracing.ServiceName)
	if serviceName == "" {
		serviceName = cfg.Service.Name
	}
	provider, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.AppVersion,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRatio,
		Enabled:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("start tracing failed: %w", err)
	}
	log.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}, nil
}

// dispatchByName routes each job to the handler registered under its
// name. Unregistered names fail the dispatch so the provider's retry and
// dead-letter path applies.
func dispatchByName(handlers map[string]queue.Handler) queue.Handler {
	return func(ctx context.Context, payload []byte, job *queue.ActiveJob) error {
		handler, ok := handlers[job.Job.Name]
		if !ok {
			return queue.NewDataError(queue.CodeInvalidJob, "no handler registered for job "+job.Job.Name, nil).
				WithJob(job.Job.ID).WithQueue(job.Job.Queue)
		}
		return handler(ctx, payload, job)
	}
}

// logEvents mirrors worker lifecycle events into the structured log.
func logEvents(log logger.Logger) queue.Listener {
	return func(e queue.Event) {
		switch e.Type {
		case queue.EventJobCompleted:
			log.Info("job completed", "job_id", e.JobID, "attempts", e.Attempts, "duration", e.Duration)
		case queue.EventJobFailed:
			log.Warn("job failed",
				"job_id", e.JobID, "attempts", e.Attempts, "will_retry", e.WillRetry,
				"error", e.Err, "error_type", e.ErrType, "duration", e.Duration)
		case queue.EventJobRetrying:
			log.Info("job retrying", "job_id", e.JobID, "attempts", e.Attempts, "max_attempts", e.MaxAttempts)
		case queue.EventQueueError:
			log.Error("queue error", "error", e.Err, "error_type", e.ErrType)
		case queue.EventShutdownTimeout:
			log.Warn("shutdown timeout", "active_jobs", e.ActiveJobs, "timeout", e.Timeout)
		}
	}
}

// startManagementServer serves /metrics and /healthz. Returns nil when
// addr is empty.
func startManagementServer(addr string, provider queue.Provider, log logger.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	registry := health.NewRegistry()
	registry.Register(queue.NewProviderHealthChecker(provider.Name(), provider, healthCheckTimeout))
	promRegistry := metrics.NewRegistry()

	mux := http.NewServeMux()
	mux.Handle("/metrics", instrument("/metrics", promRegistry.Handler()))
	mux.Handle("/healthz", instrument("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := registry.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !result.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(result)
	})))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("management server failed", "error", err)
		}
	}()
	log.Info("management server listening", "addr", addr)
	return server
}

func shutdownManagementServer(server *http.Server, log logger.Logger) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("management server shutdown failed", "error", err)
	}
}

// instrument records request metrics for one management route.
func instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncrementInFlight()
		defer metrics.DecrementInFlight()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.RecordHTTPMetrics(r.Method, path, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
