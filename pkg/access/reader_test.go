package access

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/kioaccess/pkg/provider/memory"
	"github.com/marmos91/kioaccess/pkg/stream"
)

func openReader(t *testing.T, policy stream.ReadPolicy, data []byte) (*Reader, *memory.Provider) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Stream.ReadPolicy = policy
	a, prov := newAdapter(t, cfg, memory.Options{}, data)

	h, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)
	return NewReader(context.Background(), h), prov
}

func TestReaderReadAll(t *testing.T) {
	for _, policy := range []stream.ReadPolicy{stream.ReadNonBlocking, stream.ReadBlocking} {
		t.Run(policy.String(), func(t *testing.T) {
			data := testData(150 << 10)
			r, _ := openReader(t, policy, data)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestReaderSeek(t *testing.T) {
	data := testData(100 << 10)

	t.Run("WithinDrainedData", func(t *testing.T) {
		r, prov := openReader(t, stream.ReadNonBlocking, data)

		buf := make([]byte, 100)
		_, err := io.ReadFull(r, buf)
		require.NoError(t, err)

		pos, err := r.Seek(50, io.SeekCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(150), pos)

		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
		assert.Equal(t, data[150:250], buf)
		assert.Empty(t, lastJob(t, prov).Seeks())
	})

	t.Run("BackToCurrentPosition", func(t *testing.T) {
		r, prov := openReader(t, stream.ReadNonBlocking, data)

		_, err := r.Seek(4096, io.SeekStart)
		require.NoError(t, err)
		_, err = r.Seek(0, io.SeekStart)
		require.NoError(t, err)

		buf := make([]byte, 10)
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
		assert.Equal(t, data[:10], buf)
		assert.Empty(t, lastJob(t, prov).Seeks())
	})

	t.Run("Backwards", func(t *testing.T) {
		r, prov := openReader(t, stream.ReadBlocking, data)

		_, err := io.ReadFull(r, make([]byte, 40000))
		require.NoError(t, err)

		_, err = r.Seek(7, io.SeekStart)
		require.NoError(t, err)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, data[7:], got)
		assert.Equal(t, []uint64{7}, lastJob(t, prov).Seeks())
	})

	t.Run("FromEnd", func(t *testing.T) {
		r, _ := openReader(t, stream.ReadNonBlocking, data)

		pos, err := r.Seek(-10, io.SeekEnd)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)-10), pos)

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, data[len(data)-10:], got)
	})

	t.Run("Invalid", func(t *testing.T) {
		r, _ := openReader(t, stream.ReadNonBlocking, data)

		_, err := r.Seek(-1, io.SeekStart)
		assert.Error(t, err)
		_, err = r.Seek(0, 42)
		assert.Error(t, err)
	})
}

func TestReaderClose(t *testing.T) {
	r, prov := openReader(t, stream.ReadNonBlocking, testData(1024))
	require.NoError(t, r.Close())
	assert.True(t, lastJob(t, prov).Closed())

	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, stream.ErrClosed)
}
