package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackpressureRequestMore(t *testing.T) {
	t.Run("ClampsToRequestUnit", func(t *testing.T) {
		bp := NewBackpressure(64<<10, 8<<10, 64<<10)

		assert.Equal(t, uint64(8<<10), bp.RequestMore(0))
		assert.Equal(t, uint64(8<<10), bp.Outstanding())
	})

	t.Run("TopsUpToLowWater", func(t *testing.T) {
		bp := NewBackpressure(64<<10, 8<<10, 64<<10)

		n := bp.RequestMore(60 << 10)
		assert.Equal(t, uint64(4<<10), n)
	})

	t.Run("NothingAtLowWater", func(t *testing.T) {
		bp := NewBackpressure(0, 0, 0)

		assert.Zero(t, bp.RequestMore(DefaultLowWater))
		assert.Zero(t, bp.RequestMore(DefaultLowWater+1))
		assert.Zero(t, bp.Outstanding())
	})

	t.Run("OneReadInFlightByDefault", func(t *testing.T) {
		bp := NewBackpressure(0, 0, 0)

		assert.Equal(t, uint64(DefaultRequestUnit), bp.RequestMore(0))
		assert.Zero(t, bp.RequestMore(0), "second read must wait for delivery")

		bp.Acknowledge(DefaultRequestUnit)
		assert.Equal(t, uint64(DefaultRequestUnit), bp.RequestMore(DefaultRequestUnit))
	})

	t.Run("OutstandingNeverExceedsCeiling", func(t *testing.T) {
		bp := NewBackpressure(64<<10, 8<<10, 16<<10)

		var total uint64
		for i := 0; i < 10; i++ {
			total += bp.RequestMore(0)
		}
		assert.Equal(t, uint64(16<<10), total)
		assert.LessOrEqual(t, bp.Outstanding(), uint64(16<<10))
	})
}

func TestBackpressureAcknowledge(t *testing.T) {
	t.Run("FloorsAtZero", func(t *testing.T) {
		bp := NewBackpressure(0, 0, 0)
		bp.RequestMore(0)

		bp.Acknowledge(1 << 20)
		assert.Zero(t, bp.Outstanding())
	})

	t.Run("Partial", func(t *testing.T) {
		bp := NewBackpressure(0, 0, 0)
		bp.RequestMore(0)

		bp.Acknowledge(1000)
		assert.Equal(t, uint64(DefaultRequestUnit-1000), bp.Outstanding())
	})

	t.Run("CancelGivesBack", func(t *testing.T) {
		bp := NewBackpressure(0, 0, 0)
		n := bp.RequestMore(0)

		bp.Cancel(n)
		assert.Zero(t, bp.Outstanding())
	})

	t.Run("Reset", func(t *testing.T) {
		bp := NewBackpressure(0, 4<<10, 16<<10)
		bp.RequestMore(0)
		bp.RequestMore(0)

		bp.Reset()
		assert.Zero(t, bp.Outstanding())
	})
}

func TestBackpressureDefaults(t *testing.T) {
	bp := NewBackpressure(0, 0, 0)
	assert.Equal(t, uint64(DefaultLowWater), bp.LowWater())
	assert.Equal(t, uint64(DefaultRequestUnit), bp.requestUnit)
	assert.Equal(t, uint64(DefaultRequestUnit), bp.maxOutstanding)
}
