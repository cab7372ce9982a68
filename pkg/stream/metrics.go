package stream

import "time"

// Metrics receives session observations. Implementations must be safe for
// concurrent use. A nil Metrics passed to NewSession disables collection.
type Metrics interface {
	// ObserveOpen records an open attempt and how long it took.
	ObserveOpen(provider string, duration time.Duration, err error)

	// RecordSessionClosed records the close of a session that opened
	// successfully.
	RecordSessionClosed(provider string)

	// RecordReadIssued records a provider read request of n bytes.
	RecordReadIssued(provider string, n uint64)

	// RecordBytesDelivered records bytes accepted into a session buffer.
	RecordBytesDelivered(provider string, n int)

	// RecordBlock records a block handed to the host.
	RecordBlock(provider string, n int)

	// RecordSeek records a seek request.
	RecordSeek(provider string)

	// RecordProviderError records a job that completed with an error.
	RecordProviderError(provider string, code int)

	// RecordDispatchFailure records an operation the loop refused.
	RecordDispatchFailure(provider string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOpen(string, time.Duration, error) {}
func (noopMetrics) RecordSessionClosed(string)               {}
func (noopMetrics) RecordReadIssued(string, uint64)          {}
func (noopMetrics) RecordBytesDelivered(string, int)         {}
func (noopMetrics) RecordBlock(string, int)                  {}
func (noopMetrics) RecordSeek(string)                        {}
func (noopMetrics) RecordProviderError(string, int)          {}
func (noopMetrics) RecordDispatchFailure(string)             {}
