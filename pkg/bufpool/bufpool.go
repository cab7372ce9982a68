// Package bufpool provides tiered byte-slice pools for provider reads.
//
// Providers read into pooled buffers on their I/O goroutines and hand them to
// the loop, which copies the bytes into the session buffer and returns the
// slice. The tiers follow the read sizes the stream layer asks for:
//   - 8KiB: one request unit, the common case
//   - 64KiB: a full low-water refill
//   - 1MiB: large sequential reads (serve, cat with big blocks)
//
// Requests above the largest tier are allocated directly and never pooled.
//
// Usage:
//
//	buf := bufpool.Get(n)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sort"
	"sync"
)

// Default tier sizes.
const (
	DefaultSmallSize  = 8 << 10
	DefaultMediumSize = 64 << 10
	DefaultLargeSize  = 1 << 20
)

type tier struct {
	size int
	pool sync.Pool
}

// Pool is a set of size-class pools.
type Pool struct {
	tiers []*tier
}

// NewPool creates a pool with the given tier sizes. Non-positive and duplicate
// sizes are ignored; no sizes selects the defaults.
func NewPool(sizes ...int) *Pool {
	uniq := make(map[int]struct{}, len(sizes))
	for _, s := range sizes {
		if s > 0 {
			uniq[s] = struct{}{}
		}
	}
	if len(uniq) == 0 {
		for _, s := range []int{DefaultSmallSize, DefaultMediumSize, DefaultLargeSize} {
			uniq[s] = struct{}{}
		}
	}

	ordered := make([]int, 0, len(uniq))
	for s := range uniq {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	p := &Pool{tiers: make([]*tier, len(ordered))}
	for i, size := range ordered {
		t := &tier{size: size}
		t.pool.New = func() any {
			b := make([]byte, t.size)
			return &b
		}
		p.tiers[i] = t
	}
	return p
}

// Get returns a slice of length size. Its capacity is the tier size, so it
// may be resliced up to that.
func (p *Pool) Get(size int) []byte {
	if size < 0 {
		size = 0
	}
	for _, t := range p.tiers {
		if size <= t.size {
			b := *(t.pool.Get().(*[]byte))
			return b[:size]
		}
	}
	return make([]byte, size)
}

// Put returns buf to its tier. Slices whose capacity matches no tier are left
// to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	c := cap(buf)
	for _, t := range p.tiers {
		if c == t.size {
			full := buf[:c]
			t.pool.Put(&full)
			return
		}
	}
}

// Sizes returns the tier sizes in ascending order.
func (p *Pool) Sizes() []int {
	out := make([]int, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = t.size
	}
	return out
}

var global = NewPool()

// Get returns a buffer from the shared pool.
func Get(size int) []byte { return global.Get(size) }

// Put returns a buffer to the shared pool.
func Put(buf []byte) { global.Put(buf) }
