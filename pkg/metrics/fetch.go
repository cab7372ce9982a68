package metrics

import (
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
)

// NewFetchMetrics creates a Prometheus-backed rangejob.Metrics shared by the
// file, http and s3 providers.
//
// Returns nil if metrics are not enabled.
func NewFetchMetrics() rangejob.Metrics {
	if !IsEnabled() || newPrometheusFetchMetrics == nil {
		return nil
	}
	return newPrometheusFetchMetrics()
}

var newPrometheusFetchMetrics func() rangejob.Metrics

// RegisterFetchMetricsConstructor registers the Prometheus fetch metrics
// constructor.
func RegisterFetchMetricsConstructor(constructor func() rangejob.Metrics) {
	newPrometheusFetchMetrics = constructor
}
