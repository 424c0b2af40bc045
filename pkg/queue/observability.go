package queue

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"provider", "queue", "job_name"},
	)

	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_jobs_processed_total",
			Help: "Total number of jobs processed by workers",
		},
		[]string{"queue", "job_name", "status"},
	)

	jobsRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_jobs_retry_total",
			Help: "Total number of job retries predicted by workers",
		},
		[]string{"queue", "job_name"},
	)

	jobsFetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayq_fetch_errors_total",
			Help: "Total number of fetch failures absorbed by worker loops",
		},
		[]string{"queue"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayq_jobs_inflight",
			Help: "Current number of in-flight jobs held by workers",
		},
		[]string{"queue"},
	)
)

func recordJobEnqueued(provider string, job *Job) {
	if job == nil {
		return
	}
	jobsEnqueuedTotal.WithLabelValues(
		normalizeMetricLabel(provider, "unknown"),
		normalizeMetricLabel(job.Queue, "unknown"),
		normalizeMetricLabel(job.Name, "unknown"),
	).Inc()
}

func recordJobProcessed(queue, jobName, status string) {
	jobsProcessedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func recordJobRetry(queue, jobName string) {
	jobsRetryTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(jobName, "unknown"),
	).Inc()
}

func recordFetchError(queue string) {
	jobsFetchErrorsTotal.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func incrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func decrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
