package metrics_test

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relayq/relayq/pkg/observability/metrics"
)

func ExampleNewRegistry() {
	registry := metrics.NewRegistry()

	// The handler serves the custom registry and the default registry
	// (job counters, Go runtime) in one scrape.
	http.Handle("/metrics", registry.Handler())

	fmt.Println("metrics endpoint ready")
	// Output: metrics endpoint ready
}

func ExampleRegistry_Register() {
	registry := metrics.NewRegistry()

	replayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_replayed_total",
		Help: "Total number of dead letter jobs replayed",
	})
	if err := registry.Register(replayed); err != nil {
		fmt.Printf("register failed: %v\n", err)
		return
	}

	replayed.Inc()
	fmt.Println("replay counter registered")
	// Output: replay counter registered
}

func ExampleRegistry_MustRegister() {
	registry := metrics.NewRegistry()

	panics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handler_panics_total",
		Help: "Total number of recovered handler panics",
	})
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "provider_connections",
		Help: "Number of open provider connections",
	})
	registry.MustRegister(panics, connections)

	panics.Inc()
	connections.Set(1)
	fmt.Println("worker metrics registered")
	// Output: worker metrics registered
}

func ExampleRecordHTTPMetrics() {
	// Called by the management server middleware once per request.
	metrics.RecordHTTPMetrics("GET", "/healthz", 200, 150*time.Millisecond)

	fmt.Println("request recorded")
	// Output: request recorded
}

func ExampleIncrementInFlight() {
	metrics.IncrementInFlight()
	defer metrics.DecrementInFlight()

	// ... serve the request ...

	fmt.Println("in-flight request tracked")
	// Output: in-flight request tracked
}
