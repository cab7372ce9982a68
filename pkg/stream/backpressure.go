package stream

import "sync"

// Default backpressure and block sizing.
const (
	// DefaultLowWater is the buffer level reads are topped up to (64KiB).
	DefaultLowWater = 64 << 10

	// DefaultRequestUnit caps a single provider read (8KiB). Providers were
	// seen to cap single reads well below 64KiB.
	DefaultRequestUnit = 8 << 10

	// DefaultMaxOutstanding bounds requested-but-undelivered bytes. Equal to
	// one request unit, so a single read is in flight at a time.
	DefaultMaxOutstanding = DefaultRequestUnit

	// DefaultBlockSize is the most a single Block call returns (32KiB).
	DefaultBlockSize = 32 << 10
)

// Backpressure tracks outstanding read requests and decides when another one
// may be issued.
//
// Requests are never tracked individually; only their aggregate size is kept.
// A new read is issued only while buffered+outstanding stays below the low
// water mark and the outstanding total is under its ceiling, because providers
// may serialize or reject overlapping reads.
type Backpressure struct {
	mu             sync.Mutex
	outstanding    uint64
	lowWater       uint64
	requestUnit    uint64
	maxOutstanding uint64
}

// NewBackpressure creates a controller. Zero arguments select the defaults.
func NewBackpressure(lowWater, requestUnit, maxOutstanding uint64) *Backpressure {
	if lowWater == 0 {
		lowWater = DefaultLowWater
	}
	if requestUnit == 0 {
		requestUnit = DefaultRequestUnit
	}
	if maxOutstanding == 0 {
		maxOutstanding = requestUnit
	}
	return &Backpressure{
		lowWater:       lowWater,
		requestUnit:    requestUnit,
		maxOutstanding: maxOutstanding,
	}
}

// RequestMore returns the size of the next provider read, or 0 when none
// should be issued. A non-zero result has already been added to the
// outstanding total; the caller must issue exactly one read of that size, or
// Cancel it.
func (b *Backpressure) RequestMore(buffered uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	level := buffered + b.outstanding
	if level >= b.lowWater || b.outstanding >= b.maxOutstanding {
		return 0
	}

	n := b.lowWater - level
	if n > b.requestUnit {
		n = b.requestUnit
	}
	b.outstanding += n
	return n
}

// Acknowledge subtracts delivered bytes, flooring at zero. Providers may
// deliver more than was asked for.
func (b *Backpressure) Acknowledge(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n >= b.outstanding {
		b.outstanding = 0
		return
	}
	b.outstanding -= n
}

// Cancel gives back a size returned by RequestMore that was never issued.
func (b *Backpressure) Cancel(n uint64) {
	b.Acknowledge(n)
}

// Reset forgets every outstanding request (used on seek).
func (b *Backpressure) Reset() {
	b.mu.Lock()
	b.outstanding = 0
	b.mu.Unlock()
}

// Outstanding returns the requested-but-undelivered byte count.
func (b *Backpressure) Outstanding() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}

// LowWater returns the target buffer level.
func (b *Backpressure) LowWater() uint64 {
	return b.lowWater
}
