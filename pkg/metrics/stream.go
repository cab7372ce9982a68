package metrics

import (
	"github.com/marmos91/kioaccess/pkg/stream"
)

// NewStreamMetrics creates a Prometheus-backed stream.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called) or the
// prometheus package was not linked in. Sessions treat nil as no-op.
//
//	metrics.InitRegistry()
//	adapter := access.New(cfg, reg, access.WithMetrics(metrics.NewStreamMetrics()))
func NewStreamMetrics() stream.Metrics {
	if !IsEnabled() || newPrometheusStreamMetrics == nil {
		return nil
	}
	return newPrometheusStreamMetrics()
}

// newPrometheusStreamMetrics is set by pkg/metrics/prometheus.
var newPrometheusStreamMetrics func() stream.Metrics

// RegisterStreamMetricsConstructor registers the Prometheus stream metrics
// constructor. Called by pkg/metrics/prometheus during initialization.
func RegisterStreamMetricsConstructor(constructor func() stream.Metrics) {
	newPrometheusStreamMetrics = constructor
}
