package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/kioaccess/pkg/metrics"
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
)

func init() {
	metrics.RegisterFetchMetricsConstructor(func() rangejob.Metrics { return NewFetchMetrics() })
}

// fetchMetrics is the Prometheus implementation of rangejob.Metrics.
type fetchMetrics struct {
	opensTotal   *prometheus.CounterVec
	openDuration *prometheus.HistogramVec
	bytesFetched *prometheus.CounterVec
}

var (
	fetchMu    sync.Mutex
	fetchCache = map[*prometheus.Registry]*fetchMetrics{}
)

// NewFetchMetrics returns the fetch metrics bound to the current registry.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewFetchMetrics() *fetchMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	fetchMu.Lock()
	defer fetchMu.Unlock()
	if m, ok := fetchCache[reg]; ok {
		return m
	}

	m := &fetchMetrics{
		opensTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_fetch_opens_total",
				Help: "Total number of source bodies opened by provider and status",
			},
			[]string{"provider", "status"},
		),
		openDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "kioaccess_fetch_open_duration_milliseconds",
				Help: "Time to open a source body at an offset (time to first byte)",
				Buckets: []float64{
					1,     // local disk
					5,     // 5ms
					20,    // 20ms
					50,    // 50ms
					100,   // 100ms - typical object store
					250,   // 250ms
					1000,  // 1s
					5000,  // 5s
					10000, // 10s - seek timeout
				},
			},
			[]string{"provider"},
		),
		bytesFetched: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_fetch_bytes_total",
				Help: "Total bytes read from sources",
			},
			[]string{"provider"},
		),
	}
	fetchCache[reg] = m
	return m
}

func (m *fetchMetrics) ObserveOpen(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	m.opensTotal.WithLabelValues(provider, status).Inc()
	m.openDuration.WithLabelValues(provider).Observe(duration.Seconds() * 1000)
}

func (m *fetchMetrics) RecordBytesFetched(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesFetched.WithLabelValues(provider).Add(float64(n))
}
