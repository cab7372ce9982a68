package rangejob_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// byteSource serves a byte slice, optionally failing opens or cutting bodies
// short.
type byteSource struct {
	data        []byte
	unknownSize bool
	statErr     error

	// failOpens fails that many OpenAt calls with openErr.
	failOpens atomic.Int32
	openErr   error

	// shortBody truncates every body to this many bytes when positive.
	shortBody int

	mu      sync.Mutex
	offsets []uint64
}

func (s *byteSource) Stat(ctx context.Context) (stream.JobInfo, error) {
	if s.statErr != nil {
		return stream.JobInfo{}, s.statErr
	}
	if s.unknownSize {
		return stream.JobInfo{Size: -1}, nil
	}
	return stream.JobInfo{Size: int64(len(s.data)), ContentType: "video/mp4"}, nil
}

func (s *byteSource) OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	s.mu.Unlock()

	if s.failOpens.Load() > 0 {
		s.failOpens.Add(-1)
		return nil, s.openErr
	}
	if offset >= uint64(len(s.data)) {
		return nil, io.EOF
	}
	rest := s.data[offset:]
	if s.shortBody > 0 && len(rest) > s.shortBody {
		rest = rest[:s.shortBody]
	}
	return io.NopCloser(bytes.NewReader(rest)), nil
}

func (s *byteSource) opens() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.offsets...)
}

type countingMetrics struct {
	opens, failed atomic.Int32
	fetched       atomic.Int64
}

func (m *countingMetrics) ObserveOpen(_ string, _ time.Duration, err error) {
	m.opens.Add(1)
	if err != nil {
		m.failed.Add(1)
	}
}

func (m *countingMetrics) RecordBytesFetched(_ string, n int) { m.fetched.Add(int64(n)) }

// sourceProvider adapts a single Source into a stream.Provider.
type sourceProvider struct {
	src  rangejob.Source
	opts rangejob.Options

	mu   sync.Mutex
	jobs []*rangejob.Job
}

func (p *sourceProvider) Name() string             { return "test" }
func (p *sourceProvider) CanOpen(u *url.URL) bool { return true }

func (p *sourceProvider) OpenJob(u *url.URL, loop stream.Loop, ev stream.Events) (stream.Job, error) {
	j := rangejob.Start(p.src, loop, ev, p.opts)
	p.mu.Lock()
	p.jobs = append(p.jobs, j)
	p.mu.Unlock()
	return j, nil
}

func (p *sourceProvider) lastJob(t *testing.T) *rangejob.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.jobs)
	return p.jobs[len(p.jobs)-1]
}

func testData(n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(data)
	return data
}

func fastOptions() rangejob.Options {
	return rangejob.Options{Name: "test"}
}

func openSession(t *testing.T, p *sourceProvider) *stream.Session {
	t.Helper()
	disp := stream.NewDispatcher()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = disp.Stop(ctx)
	})

	u, err := url.Parse("test://object")
	require.NoError(t, err)

	cfg := stream.DefaultConfig()
	cfg.ReadPolicy = stream.ReadBlocking
	s := stream.NewSession(u, p, disp, cfg, nil)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func readAll(t *testing.T, s *stream.Session) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	for {
		p, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			return out.Bytes()
		}
		require.NoError(t, err)
		out.Write(p)
	}
}

func TestSequentialRead(t *testing.T) {
	src := &byteSource{data: testData(200 << 10)}
	m := &countingMetrics{}
	opts := fastOptions()
	opts.Metrics = m
	s := openSession(t, &sourceProvider{src: src, opts: opts})

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, int64(len(src.data)), s.Info().Size)
	assert.Equal(t, "video/mp4", s.Info().ContentType)

	assert.Equal(t, src.data, readAll(t, s))
	assert.Equal(t, stream.StateEOF, s.State())
	assert.Nil(t, s.LastError())

	// One body serves the whole stream.
	assert.Equal(t, []uint64{0}, src.opens())
	assert.Equal(t, int64(len(src.data)), m.fetched.Load())
}

func TestUnknownSize(t *testing.T) {
	src := &byteSource{data: testData(50 << 10), unknownSize: true}
	s := openSession(t, &sourceProvider{src: src, opts: fastOptions()})

	require.NoError(t, s.Open(context.Background()))
	assert.False(t, s.Info().SizeKnown())
	assert.Equal(t, src.data, readAll(t, s))
}

func TestSeek(t *testing.T) {
	src := &byteSource{data: testData(100 << 10)}
	p := &sourceProvider{src: src, opts: fastOptions()}
	s := openSession(t, p)
	require.NoError(t, s.Open(context.Background()))

	first, err := s.Read(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, first)

	const off = 70 << 10
	require.NoError(t, s.Seek(context.Background(), off))
	assert.Equal(t, src.data[off:], readAll(t, s))
	assert.Contains(t, src.opens(), uint64(off))

	t.Run("AfterEOF", func(t *testing.T) {
		require.NoError(t, s.Seek(context.Background(), 10))
		assert.Equal(t, src.data[10:], readAll(t, s))
	})

	t.Run("PastEnd", func(t *testing.T) {
		require.NoError(t, s.Seek(context.Background(), uint64(len(src.data))+5))
		assert.Empty(t, readAll(t, s))
		assert.Nil(t, s.LastError())
	})
}

func TestShortBodiesAreResumed(t *testing.T) {
	src := &byteSource{data: testData(40 << 10), shortBody: 3000}
	s := openSession(t, &sourceProvider{src: src, opts: fastOptions()})
	require.NoError(t, s.Open(context.Background()))

	assert.Equal(t, src.data, readAll(t, s))
	assert.Nil(t, s.LastError())

	opens := src.opens()
	require.Greater(t, len(opens), 1)
	assert.Equal(t, uint64(3000), opens[1])
}

func TestOpenErrorCompletesJob(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"JobError", stream.NewJobError(403, "forbidden", nil), 403},
		{"Plain", errors.New("connection reset"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &byteSource{data: testData(1024), openErr: tt.err}
			src.failOpens.Store(5)
			m := &countingMetrics{}
			opts := fastOptions()
			opts.Metrics = m
			s := openSession(t, &sourceProvider{src: src, opts: opts})
			require.NoError(t, s.Open(context.Background()))

			// The failure surfaces as end-of-stream with the cause recorded.
			assert.Empty(t, readAll(t, s))
			assert.Equal(t, stream.StateError, s.State())
			require.NotNil(t, s.LastError())
			assert.Equal(t, tt.wantCode, s.LastError().Code)
			assert.Contains(t, s.LastError().Error(), tt.err.Error())

			// Not retried.
			assert.Len(t, src.opens(), 1)
			assert.Equal(t, int32(1), m.failed.Load())

			assert.ErrorIs(t, s.Seek(context.Background(), 0), stream.ErrJobCompleted)
		})
	}
}

func TestEmptyBodyBeforeEndFails(t *testing.T) {
	src := &byteSource{data: testData(1024)}
	p := &sourceProvider{src: &truncatingSource{byteSource: src, limit: 0}, opts: fastOptions()}
	s := openSession(t, p)
	require.NoError(t, s.Open(context.Background()))

	assert.Empty(t, readAll(t, s))
	require.NotNil(t, s.LastError())
	assert.ErrorIs(t, s.LastError(), io.ErrUnexpectedEOF)
}

func TestStatFailureFailsOpen(t *testing.T) {
	src := &byteSource{statErr: stream.NewJobError(404, "not found", nil)}
	s := openSession(t, &sourceProvider{src: src, opts: fastOptions()})

	err := s.Open(context.Background())
	assert.ErrorIs(t, err, stream.ErrOpenFailed)
	require.NotNil(t, s.LastError())
	assert.Equal(t, 404, s.LastError().Code)
	assert.Empty(t, src.opens())
}

func TestCloseStopsWorker(t *testing.T) {
	src := &byteSource{data: testData(1 << 20)}
	p := &sourceProvider{src: src, opts: fastOptions()}
	s := openSession(t, p)
	require.NoError(t, s.Open(context.Background()))

	_, err := s.Read(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close(context.Background()))

	select {
	case <-p.lastJob(t).Done():
	case <-time.After(time.Second):
		t.Fatal("worker still running after Close")
	}
}

// truncatingSource serves bodies that end after limit bytes.
type truncatingSource struct {
	*byteSource
	limit int
}

func (s *truncatingSource) OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error) {
	body, err := s.byteSource.OpenAt(ctx, offset)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(io.LimitReader(body, int64(s.limit))), nil
}
