package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instrumentation for the management endpoints (/metrics, /healthz). These
// live on the default registry and reach the scrape output through the
// Gatherer union.
var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being processed",
		},
	)
)

// RecordHTTPMetrics observes one completed request on the duration
// histogram and the request counter.
func RecordHTTPMetrics(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	requestsTotal.WithLabelValues(labels...).Inc()
}

// IncrementInFlight marks one request as started.
func IncrementInFlight() {
	requestsInFlight.Inc()
}

// DecrementInFlight marks one request as finished.
func DecrementInFlight() {
	requestsInFlight.Dec()
}
