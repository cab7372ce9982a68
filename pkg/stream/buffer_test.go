package stream

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAppendDrain(t *testing.T) {
	t.Run("PreservesOrder", func(t *testing.T) {
		b := NewBuffer(nil)
		b.Append([]byte("hello "))
		b.Append([]byte("world"))

		assert.Equal(t, 11, b.Len())
		assert.Equal(t, []byte("hello"), b.Drain(5))
		assert.Equal(t, []byte(" world"), b.Drain(100))
		assert.Zero(t, b.Len())
	})

	t.Run("DrainEmptyReturnsNil", func(t *testing.T) {
		b := NewBuffer(nil)
		assert.Nil(t, b.Drain(10))
	})

	t.Run("DrainZeroMax", func(t *testing.T) {
		b := NewBuffer(nil)
		b.Append([]byte("x"))
		assert.Nil(t, b.Drain(0))
		assert.Equal(t, 1, b.Len())
	})

	t.Run("CopiesInput", func(t *testing.T) {
		b := NewBuffer(nil)
		in := []byte("abc")
		b.Append(in)
		in[0] = 'z'

		assert.Equal(t, []byte("abc"), b.Drain(3))
	})

	t.Run("ReturnedSliceIsOwned", func(t *testing.T) {
		b := NewBuffer(nil)
		b.Append([]byte("abcdef"))
		out := b.Drain(3)
		b.Append([]byte("ghi"))

		assert.Equal(t, []byte("abc"), out)
		assert.Equal(t, []byte("defghi"), b.Drain(6))
	})

	t.Run("CompactsAcrossManyCycles", func(t *testing.T) {
		b := NewBuffer(nil)
		var want, got bytes.Buffer
		for i := 0; i < 1000; i++ {
			chunk := bytes.Repeat([]byte{byte(i)}, 37)
			want.Write(chunk)
			b.Append(chunk)
			got.Write(b.Drain(23))
		}
		for b.Len() > 0 {
			got.Write(b.Drain(1000))
		}
		assert.Equal(t, want.Bytes(), got.Bytes())
	})

	t.Run("EmptyAppendIgnored", func(t *testing.T) {
		b := NewBuffer(nil)
		b.Append(nil)
		appended, _ := b.Totals()
		assert.Zero(t, appended)
	})
}

func TestBufferAcknowledgesBackpressure(t *testing.T) {
	bp := NewBackpressure(0, 0, 0)
	b := NewBuffer(bp)

	n := bp.RequestMore(0)
	require.NotZero(t, n)

	b.Append(make([]byte, n/2))
	assert.Equal(t, n-n/2, bp.Outstanding())

	b.Append(make([]byte, n))
	assert.Zero(t, bp.Outstanding())
}

func TestBufferClearAndTotals(t *testing.T) {
	b := NewBuffer(nil)
	b.Append([]byte("0123456789"))
	b.Drain(4)
	b.Clear()

	assert.Zero(t, b.Len())
	appended, drained := b.Totals()
	assert.Equal(t, uint64(10), appended)
	assert.Equal(t, uint64(4), drained)
}

func TestBufferWait(t *testing.T) {
	t.Run("AppendWakes", func(t *testing.T) {
		b := NewBuffer(nil)
		ch := b.Wait()

		go b.Append([]byte("x"))

		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken by Append")
		}
	})

	t.Run("WakeAndClearWake", func(t *testing.T) {
		b := NewBuffer(nil)

		ch := b.Wait()
		b.Wake()
		assert.True(t, isClosed(ch))

		ch = b.Wait()
		b.Clear()
		assert.True(t, isClosed(ch))
	})

	t.Run("FreshChannelAfterSignal", func(t *testing.T) {
		b := NewBuffer(nil)
		first := b.Wait()
		b.Wake()

		second := b.Wait()
		assert.False(t, isClosed(second))
		assert.True(t, isClosed(first))
	})

	t.Run("ConcurrentProducerConsumer", func(t *testing.T) {
		b := NewBuffer(nil)
		const total = 1 << 16

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/256; i++ {
				b.Append(make([]byte, 256))
			}
		}()

		got := 0
		deadline := time.After(5 * time.Second)
		for got < total {
			ch := b.Wait()
			if p := b.Drain(1000); p != nil {
				got += len(p)
				continue
			}
			select {
			case <-ch:
			case <-deadline:
				t.Fatalf("consumer stalled at %d bytes", got)
			}
		}
		wg.Wait()
		assert.Equal(t, total, got)
	})
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
