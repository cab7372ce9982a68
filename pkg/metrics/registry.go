// Package metrics wires the stream and provider layers to Prometheus.
//
// Metrics are opt-in. Until InitRegistry is called every constructor in this
// package returns nil, and callers pass that nil down to the components, which
// then skip collection entirely.
//
// The Prometheus implementations live in pkg/metrics/prometheus and register
// their constructors at init time, so binaries enable them with a blank import:
//
//	import _ "github.com/marmos91/kioaccess/pkg/metrics/prometheus"
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry with Go runtime and process
// collectors. Calling it again returns the existing registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Reset drops the registry. Tests use it to start from a clean slate.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}

// Handler serves the registry in the Prometheus exposition format. It
// responds 404 while metrics are disabled.
func Handler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
