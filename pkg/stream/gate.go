package stream

import (
	"context"
	"sync"
)

// Gate is a one-shot completion signal. The first Open wins; later calls are
// ignored, so a gate can be raced by a callback and by Close without harm.
type Gate struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewGate returns a gate that has not been opened yet.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Open releases every waiter with err.
func (g *Gate) Open(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Done is closed once the gate has been opened.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Err returns the error the gate was opened with. Only meaningful after Done.
func (g *Gate) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Wait blocks until the gate opens or ctx ends.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
