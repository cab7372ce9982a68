package stream

import "sync"

// Buffer accumulates bytes delivered by the provider until the pull side
// drains them. One producer (the loop) and one consumer (the puller).
//
// Appending acknowledges the delivered bytes against the owning Backpressure
// and wakes a consumer blocked on Wait.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	head     int
	notify   chan struct{}
	bp       *Backpressure
	appended uint64
	drained  uint64
}

// NewBuffer creates an empty buffer acknowledging deliveries against bp.
// bp may be nil.
func NewBuffer(bp *Backpressure) *Buffer {
	return &Buffer{bp: bp}
}

// Append copies p to the tail.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	b.mu.Lock()
	if b.head > 0 && b.head >= len(b.data)/2 {
		n := copy(b.data, b.data[b.head:])
		b.data = b.data[:n]
		b.head = 0
	}
	b.data = append(b.data, p...)
	b.appended += uint64(len(p))
	b.signalLocked()
	b.mu.Unlock()

	if b.bp != nil {
		b.bp.Acknowledge(uint64(len(p)))
	}
}

// Drain removes and returns up to max bytes from the head, or nil when the
// buffer is empty. The returned slice is owned by the caller.
func (b *Buffer) Drain(max int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := len(b.data) - b.head
	if avail == 0 || max <= 0 {
		return nil
	}
	n := avail
	if n > max {
		n = max
	}

	out := make([]byte, n)
	copy(out, b.data[b.head:b.head+n])
	b.head += n
	b.drained += uint64(n)
	if b.head == len(b.data) {
		b.data = b.data[:0]
		b.head = 0
	}
	return out
}

// Clear discards every buffered byte.
func (b *Buffer) Clear() {
	b.mu.Lock()
	b.data = b.data[:0]
	b.head = 0
	b.signalLocked()
	b.mu.Unlock()
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) - b.head
}

// Wait returns a channel closed by the next Append, Clear or Wake.
func (b *Buffer) Wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notify == nil {
		b.notify = make(chan struct{})
	}
	return b.notify
}

// Wake releases current waiters without changing the contents. Used when the
// stream state changes (EOF, error, close).
func (b *Buffer) Wake() {
	b.mu.Lock()
	b.signalLocked()
	b.mu.Unlock()
}

// Totals returns the lifetime appended and drained byte counts. Cleared bytes
// count as appended but never as drained.
func (b *Buffer) Totals() (appended, drained uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appended, b.drained
}

func (b *Buffer) signalLocked() {
	if b.notify != nil {
		close(b.notify)
		b.notify = nil
	}
}
