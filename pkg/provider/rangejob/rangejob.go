// Package rangejob turns a random-access byte source into a stream.Job.
//
// A job runs one worker goroutine that owns the source. The loop talks to the
// worker through a small unbounded command queue and never blocks on I/O; the
// worker posts results back to the loop. The worker keeps a single sequential
// body open and only reopens it after a seek, or when a body ends before the
// end of the source (servers may cap range responses). Failed opens are not
// retried; they complete the job.
//
// Every posted result carries the job generation it was produced for. Seek
// bumps the generation on the loop, so results of an older generation are
// dropped when they reach the loop.
package rangejob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/pkg/bufpool"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Source is a random-access byte source.
//
// OpenAt returns a body positioned at offset, or io.EOF when offset is at or
// past the end. Failures should be *stream.JobError values carrying the
// backend's code.
//
// A Source that also implements io.Closer is closed when the worker exits.
type Source interface {
	Stat(ctx context.Context) (stream.JobInfo, error)
	OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error)
}

// Metrics observes source I/O. Implementations must be safe for concurrent
// use; a nil Metrics disables collection.
type Metrics interface {
	// ObserveOpen records one OpenAt call.
	ObserveOpen(provider string, duration time.Duration, err error)

	// RecordBytesFetched records bytes read from a body.
	RecordBytesFetched(provider string, n int)
}

// Options tune a job.
type Options struct {
	// Name labels logs and metrics (the provider name).
	Name string

	Metrics Metrics
}

type command struct {
	gen    uint64
	seek   bool
	offset uint64
	n      int
}

// Job is a stream.Job backed by a Source.
type Job struct {
	src    Source
	loop   stream.Loop
	events stream.Events
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// gen is only touched on the loop.
	gen uint64

	closed atomic.Bool

	mu    sync.Mutex
	queue []command
	wake  chan struct{}
}

// Start creates a job and starts its worker. The worker stats the source and
// reports Opened or Completed through the loop.
func Start(src Source, loop stream.Loop, events stream.Events, opts Options) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		src:    src,
		loop:   loop,
		events: events,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go j.run()
	return j
}

// Read implements stream.Job.
func (j *Job) Read(n int) {
	if n <= 0 {
		return
	}
	j.enqueue(command{gen: j.gen, n: n})
}

// Seek implements stream.Job. The seek is acknowledged immediately; the body
// is reopened lazily by the next read.
func (j *Job) Seek(offset uint64) {
	j.gen++
	gen := j.gen
	j.enqueue(command{gen: gen, seek: true, offset: offset})
	j.post(gen, func() { j.events.PositionChanged(offset) })
}

// Close implements stream.Job. It cancels in-flight I/O and returns without
// waiting for the worker.
func (j *Job) Close() {
	if j.closed.Swap(true) {
		return
	}
	j.cancel()
}

// Done is closed when the worker has exited.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) enqueue(c command) {
	j.mu.Lock()
	if c.seek {
		// Pending reads are for an older position.
		j.queue = j.queue[:0]
	}
	j.queue = append(j.queue, c)
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *Job) next() (command, bool) {
	for {
		j.mu.Lock()
		if len(j.queue) > 0 {
			c := j.queue[0]
			j.queue = j.queue[1:]
			j.mu.Unlock()
			return c, true
		}
		j.mu.Unlock()

		select {
		case <-j.wake:
		case <-j.ctx.Done():
			return command{}, false
		}
	}
}

// post runs fn on the loop unless the job was closed or sought past gen by
// then.
func (j *Job) post(gen uint64, fn func()) {
	_ = j.loop.Post(func() {
		if j.closed.Load() || j.gen != gen {
			return
		}
		fn()
	})
}

func (j *Job) postData(gen uint64, buf []byte) {
	err := j.loop.Post(func() {
		defer bufpool.Put(buf)
		if j.closed.Load() || j.gen != gen {
			return
		}
		j.events.DataArrived(buf)
	})
	if err != nil {
		bufpool.Put(buf)
	}
}

func (j *Job) fail(gen uint64, err error) {
	if j.ctx.Err() != nil {
		return
	}
	logger.Debug("Range job failed", logger.KeyProvider, j.opts.Name, logger.KeyError, err)
	j.post(gen, func() { j.events.Completed(err) })
}

func (j *Job) run() {
	defer close(j.done)
	if c, ok := j.src.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	w := worker{job: j}
	defer w.closeBody()

	info, err := j.src.Stat(j.ctx)
	if err != nil {
		j.fail(0, fmt.Errorf("stat: %w", err))
		return
	}
	w.size = info.Size
	j.post(0, func() { j.events.Opened(info) })

	for {
		c, ok := j.next()
		if !ok {
			return
		}
		if c.seek {
			w.seek(c)
			continue
		}
		if c.gen != w.gen {
			continue
		}
		if !w.read(c.n) {
			return
		}
	}
}

// worker holds the state owned by the worker goroutine.
type worker struct {
	job  *Job
	size int64
	gen  uint64
	pos  uint64
	body io.ReadCloser
	eof  bool

	// bodyRead counts bytes read from the current body.
	bodyRead int
}

func (w *worker) seek(c command) {
	if w.body != nil && c.offset != w.pos {
		w.closeBody()
	}
	w.gen = c.gen
	w.pos = c.offset
	w.eof = w.size >= 0 && c.offset >= uint64(w.size)
}

func (w *worker) closeBody() {
	if w.body != nil {
		_ = w.body.Close()
		w.body = nil
	}
}

// read serves one read request of n bytes, posting each piece as soon as the
// body yields it. It returns false once the job has failed.
func (w *worker) read(n int) bool {
	j := w.job
	name := j.opts.Name

	if w.eof {
		j.post(w.gen, func() { j.events.DataArrived(nil) })
		return true
	}

	delivered := 0
	for delivered < n {
		if w.body == nil {
			start := time.Now()
			body, err := j.src.OpenAt(j.ctx, w.pos)
			if j.opts.Metrics != nil {
				j.opts.Metrics.ObserveOpen(name, time.Since(start), err)
			}
			switch {
			case errors.Is(err, io.EOF):
				w.markEOF(delivered)
				return true
			case err != nil:
				j.fail(w.gen, err)
				return false
			}
			w.body = body
			w.bodyRead = 0
		}

		buf := bufpool.Get(n - delivered)
		got, err := w.body.Read(buf)
		if got > 0 {
			w.pos += uint64(got)
			w.bodyRead += got
			delivered += got
			if j.opts.Metrics != nil {
				j.opts.Metrics.RecordBytesFetched(name, got)
			}
			j.postData(w.gen, buf[:got])
		} else {
			bufpool.Put(buf)
		}
		if err == nil {
			continue
		}

		w.closeBody()
		if errors.Is(err, io.EOF) {
			if w.size < 0 || w.pos >= uint64(w.size) {
				w.markEOF(delivered)
				return true
			}
			if w.bodyRead > 0 {
				// Short range response; continue from pos.
				continue
			}
			err = fmt.Errorf("body ended at %d of %d: %w", w.pos, w.size, io.ErrUnexpectedEOF)
		}
		j.fail(w.gen, err)
		return false
	}
	return true
}

// markEOF records the end of the source. A request that delivered nothing is
// answered with the zero-length end-of-stream delivery right away.
func (w *worker) markEOF(delivered int) {
	w.eof = true
	if delivered == 0 {
		j := w.job
		j.post(w.gen, func() { j.events.DataArrived(nil) })
	}
}
