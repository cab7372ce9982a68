package access

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/kioaccess/pkg/provider/memory"
	"github.com/marmos91/kioaccess/pkg/registry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

const clip = "clip"

func testData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func newAdapter(t *testing.T, cfg Config, opts memory.Options, data []byte) (*Adapter, *memory.Provider) {
	t.Helper()
	prov := memory.New(opts)
	prov.Put(clip, data)

	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(prov, memory.Scheme))

	a := New(cfg, reg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a, prov
}

func lastJob(t *testing.T, p *memory.Provider) *memory.Job {
	t.Helper()
	jobs := p.Jobs()
	require.NotEmpty(t, jobs)
	return jobs[len(jobs)-1]
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.OpenTimeout)
	assert.Equal(t, 10*time.Second, cfg.SeekTimeout)
	assert.Equal(t, 10*time.Second, cfg.CloseTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.PTSDelay)
	assert.Equal(t, stream.ReadNonBlocking, cfg.Stream.ReadPolicy)
}

func TestOpen(t *testing.T) {
	t.Run("SchemeAndPath", func(t *testing.T) {
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{}, testData(1024))

		h, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)
		assert.Equal(t, "memory://clip", h.URL().String())

		size, ok := h.Size()
		assert.True(t, ok)
		assert.Equal(t, uint64(1024), size)

		got, ok := a.Lookup(h.ID())
		require.True(t, ok)
		assert.Same(t, h, got)
		assert.Len(t, a.Handles(), 1)
	})

	t.Run("BlockBeforeDataReturnsNothing", func(t *testing.T) {
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{Stall: true}, testData(1024))

		h, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)

		p, err := h.Block(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("UnknownScheme", func(t *testing.T) {
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{}, testData(16))

		_, err := a.Open(context.Background(), "gopher", "host/clip")
		assert.ErrorIs(t, err, stream.ErrOpenFailed)
		assert.ErrorIs(t, err, registry.ErrNoProvider)
	})

	t.Run("ProbeRejects", func(t *testing.T) {
		a, prov := newAdapter(t, DefaultConfig(), memory.Options{}, testData(16))

		_, err := a.Open(context.Background(), "memory", "missing")
		assert.ErrorIs(t, err, stream.ErrOpenFailed)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Empty(t, prov.Jobs())
	})

	t.Run("InvalidURL", func(t *testing.T) {
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{}, testData(16))

		_, err := a.OpenURL(context.Background(), "memory://%zz")
		assert.ErrorIs(t, err, stream.ErrOpenFailed)
	})

	t.Run("CompletedBeforeOpened", func(t *testing.T) {
		fail := stream.NewJobError(401, "authentication required", nil)
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{CompleteOnOpen: fail}, testData(16))

		done := make(chan error, 1)
		go func() {
			_, err := a.OpenURL(context.Background(), "memory://clip")
			done <- err
		}()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, stream.ErrOpenFailed)
		case <-time.After(2 * time.Second):
			t.Fatal("Open did not return")
		}
		assert.Empty(t, a.Handles())
	})

	t.Run("TimeoutClosesSession", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.OpenTimeout = 50 * time.Millisecond
		a, prov := newAdapter(t, cfg, memory.Options{NeverOpen: true}, testData(16))

		_, err := a.Open(context.Background(), "memory", clip)
		assert.ErrorIs(t, err, stream.ErrOpenFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		job := lastJob(t, prov)
		require.Eventually(t, job.Closed, time.Second, 5*time.Millisecond)
		assert.Empty(t, a.Handles())
	})
}

func TestBlock(t *testing.T) {
	t.Run("DrainsOneBlock", func(t *testing.T) {
		data := testData(40000)
		cfg := DefaultConfig()
		cfg.Stream.BlockSize = 32768
		a, _ := newAdapter(t, cfg, memory.Options{}, data)

		h, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			st := h.Stats()
			return st.Buffered == len(data) && st.State == stream.StateEOF
		}, 2*time.Second, 5*time.Millisecond)

		p, err := h.Block(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data[:32768], p)
		assert.Equal(t, uint64(32768), h.Position())
		assert.Equal(t, 40000-32768, h.Stats().Buffered)

		p, err = h.Block(context.Background())
		require.NoError(t, err)
		assert.Equal(t, data[32768:], p)

		p, err = h.Block(context.Background())
		assert.Nil(t, p)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("ProviderErrorEndsStream", func(t *testing.T) {
		fail := stream.NewJobError(503, "backend unavailable", nil)
		cfg := DefaultConfig()
		cfg.Stream.ReadPolicy = stream.ReadBlocking
		a, _ := newAdapter(t, cfg, memory.Options{FailAfter: 1000, FailError: fail}, testData(4096))

		h, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)

		var got bytes.Buffer
		for {
			p, err := h.Block(context.Background())
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			got.Write(p)
		}
		assert.Equal(t, 1000, got.Len())

		st := h.Stats()
		require.NotNil(t, st.LastError)
		assert.Equal(t, 503, st.LastError.Code)
	})
}

func TestSeek(t *testing.T) {
	data := testData(8192)
	a, prov := newAdapter(t, DefaultConfig(), memory.Options{Latency: 50 * time.Millisecond}, data)

	h, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)

	require.NoError(t, h.Seek(context.Background(), 1000))
	assert.Equal(t, []uint64{1000}, lastJob(t, prov).Seeks())

	// Nothing from the new position has arrived yet.
	p, err := h.Block(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, p)

	var first []byte
	require.Eventually(t, func() bool {
		first, err = h.Block(context.Background())
		return err != nil || len(first) > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, data[1000:1000+len(first)], first)
}

func TestSeekAfterFailureIsRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.ReadPolicy = stream.ReadBlocking
	a, _ := newAdapter(t, cfg, memory.Options{FailAfter: 10}, testData(100))

	h, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)
	_, err = io.ReadAll(NewReader(context.Background(), h))
	require.NoError(t, err)

	assert.ErrorIs(t, h.Seek(context.Background(), 0), stream.ErrJobCompleted)
}

func TestControl(t *testing.T) {
	a, _ := newAdapter(t, DefaultConfig(), memory.Options{}, testData(2048))
	h, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)

	tests := []struct {
		query Query
		want  any
	}{
		{QueryCanSeek, true},
		{QueryCanPause, true},
		{QueryCanFastSeek, false},
		{QueryCanControlPace, false},
		{QueryPTSDelay, 300 * time.Millisecond},
		{QuerySize, uint64(2048)},
	}
	for _, tt := range tests {
		t.Run(tt.query.String(), func(t *testing.T) {
			got, err := h.Control(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, q := range []Query{QueryTitle, QueryMeta, QueryContentType, QuerySignal, Query(99)} {
		t.Run(q.String(), func(t *testing.T) {
			_, err := h.Control(q)
			assert.ErrorIs(t, err, stream.ErrUnsupported)
		})
	}

	t.Run("UnknownSize", func(t *testing.T) {
		a, _ := newAdapter(t, DefaultConfig(), memory.Options{UnknownSize: true}, testData(16))
		h, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)

		_, err = h.Control(QuerySize)
		assert.ErrorIs(t, err, stream.ErrUnsupported)
	})
}

func TestParseQuery(t *testing.T) {
	for _, q := range Queries() {
		got, err := ParseQuery(q.String())
		require.NoError(t, err)
		assert.Equal(t, q, got)
	}

	q, err := ParseQuery(" PTS_DELAY ")
	require.NoError(t, err)
	assert.Equal(t, QueryPTSDelay, q)

	_, err = ParseQuery("volume")
	assert.ErrorIs(t, err, stream.ErrUnsupported)
}

func TestClose(t *testing.T) {
	a, prov := newAdapter(t, DefaultConfig(), memory.Options{}, testData(1024))
	h, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)

	require.NoError(t, h.Close(context.Background()))
	require.NoError(t, h.Close(context.Background()))

	assert.True(t, lastJob(t, prov).Closed())
	assert.Empty(t, a.Handles())
	assert.Equal(t, stream.StateClosed, h.State())

	_, err = h.Block(context.Background())
	assert.ErrorIs(t, err, stream.ErrClosed)
}

func TestShutdown(t *testing.T) {
	a, prov := newAdapter(t, DefaultConfig(), memory.Options{}, testData(1024))
	for i := 0; i < 3; i++ {
		_, err := a.Open(context.Background(), "memory", clip)
		require.NoError(t, err)
	}
	require.Len(t, a.Handles(), 3)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
	assert.Empty(t, a.Handles())
	for _, j := range prov.Jobs() {
		assert.True(t, j.Closed())
	}

	_, err := a.Open(context.Background(), "memory", clip)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, err, stream.ErrOpenFailed)
}

// heldCloseMetrics parks the first RecordSessionClosed call until released,
// holding Shutdown between its handle snapshot and the dispatcher stop.
type heldCloseMetrics struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func newHeldCloseMetrics() *heldCloseMetrics {
	return &heldCloseMetrics{entered: make(chan struct{}), release: make(chan struct{})}
}

func (m *heldCloseMetrics) RecordSessionClosed(string) {
	if m.calls.Add(1) == 1 {
		close(m.entered)
		<-m.release
	}
}

func (m *heldCloseMetrics) ObserveOpen(string, time.Duration, error) {}
func (m *heldCloseMetrics) RecordReadIssued(string, uint64)          {}
func (m *heldCloseMetrics) RecordBytesDelivered(string, int)         {}
func (m *heldCloseMetrics) RecordBlock(string, int)                  {}
func (m *heldCloseMetrics) RecordSeek(string)                        {}
func (m *heldCloseMetrics) RecordProviderError(string, int)          {}
func (m *heldCloseMetrics) RecordDispatchFailure(string)             {}

func TestShutdownDuringOpen(t *testing.T) {
	prov := memory.New(memory.Options{Latency: 100 * time.Millisecond})
	prov.Put(clip, testData(1024))
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(prov, memory.Scheme))

	m := newHeldCloseMetrics()
	a := New(DefaultConfig(), reg, WithMetrics(m))

	first, err := a.Open(context.Background(), "memory", clip)
	require.NoError(t, err)

	type result struct {
		h   *Handle
		err error
	}
	opened := make(chan result, 1)
	go func() {
		h, err := a.Open(context.Background(), "memory", clip)
		opened <- result{h, err}
	}()
	require.Eventually(t, func() bool { return len(prov.Jobs()) == 2 }, time.Second, time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- a.Shutdown(context.Background()) }()

	select {
	case <-m.entered:
	case <-time.After(time.Second):
		t.Fatal("Shutdown never started closing handles")
	}

	select {
	case res := <-opened:
		assert.Nil(t, res.h)
		assert.ErrorIs(t, res.err, ErrShutdown)
		assert.ErrorIs(t, res.err, stream.ErrOpenFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight open never returned")
	}

	late := prov.Jobs()[1]
	assert.True(t, late.Closed())
	handles := a.Handles()
	require.Len(t, handles, 1)
	assert.Same(t, first, handles[0])

	close(m.release)
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown never returned")
	}
	assert.Empty(t, a.Handles())
	assert.True(t, prov.Jobs()[0].Closed())
}

func TestProbe(t *testing.T) {
	a, _ := newAdapter(t, DefaultConfig(), memory.Options{}, testData(16))

	u, err := registry.BuildURL("memory", clip)
	require.NoError(t, err)
	res := a.Probe(u)
	assert.True(t, res.CanOpen)
	assert.Equal(t, memory.Scheme, res.Provider)

	u, err = registry.BuildURL("memory", "missing")
	require.NoError(t, err)
	res = a.Probe(u)
	assert.False(t, res.CanOpen)
	assert.NotEmpty(t, res.Reason)

	u, err = registry.BuildURL("ftp", "host/file")
	require.NoError(t, err)
	res = a.Probe(u)
	assert.False(t, res.CanOpen)
	assert.Empty(t, res.Provider)
}
