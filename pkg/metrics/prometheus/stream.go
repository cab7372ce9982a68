// Package prometheus provides the Prometheus implementations of the stream
// and provider metrics interfaces. Importing it registers the constructors
// with pkg/metrics.
package prometheus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/kioaccess/pkg/metrics"
	"github.com/marmos91/kioaccess/pkg/stream"
)

func init() {
	metrics.RegisterStreamMetricsConstructor(func() stream.Metrics { return NewStreamMetrics() })
}

// streamMetrics is the Prometheus implementation of stream.Metrics.
type streamMetrics struct {
	opensTotal     *prometheus.CounterVec
	openDuration   *prometheus.HistogramVec
	sessionsActive *prometheus.GaugeVec
	readsIssued    *prometheus.CounterVec
	bytesRequested *prometheus.CounterVec
	bytesDelivered *prometheus.CounterVec
	blocksTotal    *prometheus.CounterVec
	blockBytes     *prometheus.HistogramVec
	seeksTotal     *prometheus.CounterVec
	providerErrors *prometheus.CounterVec
	dispatchFails  *prometheus.CounterVec
}

var (
	streamMu    sync.Mutex
	streamCache = map[*prometheus.Registry]*streamMetrics{}
)

// NewStreamMetrics returns the stream metrics bound to the current registry,
// creating them on first use.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStreamMetrics() *streamMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	streamMu.Lock()
	defer streamMu.Unlock()
	if m, ok := streamCache[reg]; ok {
		return m
	}

	m := &streamMetrics{
		opensTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_opens_total",
				Help: "Total number of session opens by provider and outcome (success, timeout, closed, unavailable, error)",
			},
			[]string{"provider", "status"},
		),
		openDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "kioaccess_stream_open_duration_milliseconds",
				Help: "Time from Open to the provider reporting the job opened",
				Buckets: []float64{
					1,     // local files
					10,    // 10ms
					50,    // 50ms - nearby HTTP
					100,   // 100ms
					500,   // 500ms - remote object stores
					1000,  // 1s
					5000,  // 5s
					30000, // open timeout
				},
			},
			[]string{"provider"},
		),
		sessionsActive: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kioaccess_stream_sessions_active",
				Help: "Current number of open sessions",
			},
			[]string{"provider"},
		),
		readsIssued: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_read_requests_total",
				Help: "Total number of read requests issued to providers",
			},
			[]string{"provider"},
		),
		bytesRequested: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_requested_bytes_total",
				Help: "Total bytes requested from providers",
			},
			[]string{"provider"},
		),
		bytesDelivered: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_delivered_bytes_total",
				Help: "Total bytes delivered by providers into session buffers",
			},
			[]string{"provider"},
		),
		blocksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_blocks_total",
				Help: "Total number of blocks handed to readers",
			},
			[]string{"provider"},
		),
		blockBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "kioaccess_stream_block_bytes",
				Help: "Distribution of block sizes handed to readers",
				Buckets: []float64{
					512,
					4096,   // 4KB
					8192,   // request unit
					32768,  // default block
					65536,  // low water
					262144, // 256KB
					1048576,
				},
			},
			[]string{"provider"},
		),
		seeksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_seeks_total",
				Help: "Total number of seeks",
			},
			[]string{"provider"},
		),
		providerErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_provider_errors_total",
				Help: "Total number of jobs that completed with an error, by code",
			},
			[]string{"provider", "code"},
		),
		dispatchFails: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kioaccess_stream_dispatch_failures_total",
				Help: "Total number of operations refused by a stopped dispatcher",
			},
			[]string{"provider"},
		),
	}
	streamCache[reg] = m
	return m
}

func (m *streamMetrics) ObserveOpen(provider string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := openStatus(err)
	if err == nil {
		m.sessionsActive.WithLabelValues(provider).Inc()
	}

	m.opensTotal.WithLabelValues(provider, status).Inc()
	m.openDuration.WithLabelValues(provider).Observe(duration.Seconds() * 1000)
}

func (m *streamMetrics) RecordSessionClosed(provider string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(provider).Dec()
}

func (m *streamMetrics) RecordReadIssued(provider string, n uint64) {
	if m == nil {
		return
	}
	m.readsIssued.WithLabelValues(provider).Inc()
	m.bytesRequested.WithLabelValues(provider).Add(float64(n))
}

func (m *streamMetrics) RecordBytesDelivered(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesDelivered.WithLabelValues(provider).Add(float64(n))
}

func (m *streamMetrics) RecordBlock(provider string, n int) {
	if m == nil {
		return
	}
	m.blocksTotal.WithLabelValues(provider).Inc()
	m.blockBytes.WithLabelValues(provider).Observe(float64(n))
}

func (m *streamMetrics) RecordSeek(provider string) {
	if m == nil {
		return
	}
	m.seeksTotal.WithLabelValues(provider).Inc()
}

func (m *streamMetrics) RecordProviderError(provider string, code int) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, strconv.Itoa(code)).Inc()
}

func (m *streamMetrics) RecordDispatchFailure(provider string) {
	if m == nil {
		return
	}
	m.dispatchFails.WithLabelValues(provider).Inc()
}

// openStatus maps an open error to a low-cardinality label value.
func openStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, stream.ErrClosed):
		return "closed"
	case errors.Is(err, stream.ErrDispatchUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
