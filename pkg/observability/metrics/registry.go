// Package metrics provides Prometheus metrics registration and exposure
// for relayq processes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metrics registration and exposure. It holds
// the management HTTP metrics and gathers the default registry as well, so
// promauto-registered collectors (the job processing metrics) and the
// default Go/process collectors show up on the same endpoint. Go and
// process collectors are never registered here: the default registry
// already carries them, and a second copy would make every union gather
// fail with duplicate metrics.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a metrics registry with the management HTTP metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	return &Registry{
		registry: reg,
	}
}

// Register registers a custom Prometheus collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers custom Prometheus collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry. Primarily useful for
// testing.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns an HTTP handler exposing metrics in Prometheus format.
// Mount it on the management server at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns a gatherer covering this registry and the default one.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{r.registry, prometheus.DefaultGatherer}
}
