package stream

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/marmos91/kioaccess/internal/logger"
)

// Dispatcher runs operations on a single dedicated goroutine (the loop).
//
// Providers require every call into a job, and every callback out of it, to
// happen on one goroutine. The dispatcher is that goroutine: pull-side callers
// hand it closures through Invoke or Post, and providers post their callbacks
// to it from their own I/O goroutines.
//
// The queue is unbounded. Posting never blocks, which keeps the loop free of
// self-deadlock when an operation running on the loop posts follow-up work.
//
// Thread Safety:
// All methods are safe for concurrent use. Invoke with blocking=true must not
// be called from the loop itself: it would wait on work queued behind it.
type Dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDispatcher creates a dispatcher and starts its loop goroutine.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.run()
	return d
}

// Invoke runs op on the loop. op receives a fresh Gate that must be opened
// exactly once, either by op itself or later by a callback op arranged for.
//
// When blocking is true Invoke waits until the gate opens and returns the
// gate's error. When blocking is false Invoke returns as soon as op is queued.
//
// Returns ErrDispatchUnavailable if the loop has been stopped, including when
// it stops while a blocking caller is waiting.
func (d *Dispatcher) Invoke(ctx context.Context, op func(g *Gate), blocking bool) error {
	g := NewGate()
	wrapped := func() {
		defer func() {
			if r := recover(); r != nil {
				g.Open(fmt.Errorf("operation panicked: %v", r))
				panic(r)
			}
		}()
		op(g)
	}
	if err := d.enqueue(wrapped); err != nil {
		return err
	}
	if !blocking {
		return nil
	}

	select {
	case <-g.Done():
		return g.Err()
	case <-d.doneCh:
		// The loop may have run op right before stopping.
		select {
		case <-g.Done():
			return g.Err()
		default:
			return fmt.Errorf("waiting for loop: %w", ErrDispatchUnavailable)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues op for the loop and returns immediately.
func (d *Dispatcher) Post(op func()) error {
	return d.enqueue(op)
}

// Stop stops the loop once the operation currently running returns. Queued
// operations that have not started are discarded. Stop waits for the loop to
// exit or for ctx to end, and is idempotent.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		d.queue = nil
		close(d.stopCh)
	}
	d.mu.Unlock()

	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Done is closed once the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.doneCh
}

// Pending returns the number of queued operations.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) enqueue(op func()) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatchUnavailable
	}
	d.queue = append(d.queue, op)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			op := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()

			d.exec(op)
		}
	}
}

func (d *Dispatcher) exec(op func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Dispatcher operation panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	op()
}
