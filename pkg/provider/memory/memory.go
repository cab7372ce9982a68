// Package memory implements an in-process stream provider backed by byte
// slices. It serves memory://<name> URLs and can be scripted to misbehave,
// which makes it the provider of choice for tests.
package memory

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/kioaccess/pkg/stream"
)

// Scheme is the URL scheme served by this provider.
const Scheme = "memory"

// ErrNotFound is reported when a URL names an object that was never Put.
var ErrNotFound = errors.New("memory object not found")

// Options script the behaviour of every job the provider opens.
type Options struct {
	// OpenError makes OpenJob fail immediately.
	OpenError error

	// CompleteOnOpen makes the job complete with this error instead of
	// reporting itself opened.
	CompleteOnOpen error

	// NeverOpen leaves jobs stuck in the opening phase.
	NeverOpen bool

	// UnknownSize reports a size of -1.
	UnknownSize bool

	// MaxChunk caps the bytes delivered per read. Zero delivers what was asked.
	MaxChunk int

	// Overdeliver adds this many extra bytes to every delivery.
	Overdeliver int

	// FailAfter completes the job with FailError once this many bytes have
	// been delivered. Zero disables.
	FailAfter int
	FailError error

	// CompleteAtEnd completes the job cleanly at end of data instead of
	// reporting a zero-length delivery.
	CompleteAtEnd bool

	// SkipSeekAck suppresses PositionChanged after a seek.
	SkipSeekAck bool

	// Stall accepts reads but never answers them.
	Stall bool

	// Latency delays every callback.
	Latency time.Duration
}

// Provider serves named in-memory objects.
type Provider struct {
	mu      sync.RWMutex
	objects map[string][]byte
	opts    Options
	jobs    []*Job
}

// New creates an empty provider.
func New(opts Options) *Provider {
	return &Provider{
		objects: make(map[string][]byte),
		opts:    opts,
	}
}

// Put stores data under name, replacing any previous object.
func (p *Provider) Put(name string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[name] = data
}

// Name implements stream.Provider.
func (p *Provider) Name() string { return Scheme }

// CanOpen implements stream.Provider.
func (p *Provider) CanOpen(u *url.URL) bool {
	if u == nil || !strings.EqualFold(u.Scheme, Scheme) {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.objects[objectName(u)]
	return ok
}

// OpenJob implements stream.Provider.
func (p *Provider) OpenJob(u *url.URL, loop stream.Loop, events stream.Events) (stream.Job, error) {
	if p.opts.OpenError != nil {
		return nil, p.opts.OpenError
	}

	p.mu.Lock()
	data, ok := p.objects[objectName(u)]
	if !ok {
		p.mu.Unlock()
		return nil, stream.NewJobError(404, "open "+u.Redacted(), ErrNotFound)
	}
	j := &Job{
		data:   data,
		opts:   p.opts,
		loop:   loop,
		events: events,
	}
	p.jobs = append(p.jobs, j)
	p.mu.Unlock()

	switch {
	case p.opts.NeverOpen:
	case p.opts.CompleteOnOpen != nil:
		err := p.opts.CompleteOnOpen
		j.post(0, func() { events.Completed(err) })
	default:
		info := stream.JobInfo{Size: int64(len(data))}
		if p.opts.UnknownSize {
			info.Size = -1
		}
		j.post(0, func() { events.Opened(info) })
	}
	return j, nil
}

// Jobs returns every job opened so far.
func (p *Provider) Jobs() []*Job {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Job(nil), p.jobs...)
}

func objectName(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Host + u.Path
}

// Job serves one object. Its stream.Job methods run on the loop.
type Job struct {
	data   []byte
	opts   Options
	loop   stream.Loop
	events stream.Events

	// Loop-owned.
	pos       int
	gen       uint64
	delivered int
	done      bool

	mu       sync.Mutex
	requests []int
	seeks    []uint64
	closed   bool
}

// Read implements stream.Job.
func (j *Job) Read(n int) {
	j.mu.Lock()
	j.requests = append(j.requests, n)
	j.mu.Unlock()

	if j.done || j.opts.Stall {
		return
	}

	if j.pos >= len(j.data) {
		if j.opts.CompleteAtEnd {
			j.done = true
			j.post(j.gen, func() { j.events.Completed(nil) })
			return
		}
		j.post(j.gen, func() { j.events.DataArrived(nil) })
		return
	}

	size := n
	if j.opts.MaxChunk > 0 && size > j.opts.MaxChunk {
		size = j.opts.MaxChunk
	}
	size += j.opts.Overdeliver
	if j.opts.FailAfter > 0 && j.delivered+size > j.opts.FailAfter {
		size = j.opts.FailAfter - j.delivered
	}
	end := j.pos + size
	if end > len(j.data) {
		end = len(j.data)
	}
	chunk := j.data[j.pos:end]
	j.pos = end
	j.delivered += len(chunk)

	if len(chunk) > 0 {
		j.post(j.gen, func() { j.events.DataArrived(chunk) })
	}
	if j.opts.FailAfter > 0 && j.delivered >= j.opts.FailAfter {
		j.done = true
		err := j.opts.FailError
		if err == nil {
			err = stream.NewJobError(500, "scripted failure", nil)
		}
		j.post(j.gen, func() { j.events.Completed(err) })
	}
}

// Seek implements stream.Job.
func (j *Job) Seek(offset uint64) {
	j.mu.Lock()
	j.seeks = append(j.seeks, offset)
	j.mu.Unlock()

	j.gen++
	if offset > uint64(len(j.data)) {
		offset = uint64(len(j.data))
	}
	j.pos = int(offset)
	if j.opts.SkipSeekAck {
		return
	}
	j.post(j.gen, func() { j.events.PositionChanged(offset) })
}

// Close implements stream.Job.
func (j *Job) Close() {
	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
}

// Requests returns the sizes of every read the job received.
func (j *Job) Requests() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]int(nil), j.requests...)
}

// Seeks returns every offset the job was asked to seek to.
func (j *Job) Seeks() []uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]uint64(nil), j.seeks...)
}

// Closed reports whether Close was called.
func (j *Job) Closed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// post delivers cb on the loop unless the job was closed or sought past gen
// by the time it runs.
func (j *Job) post(gen uint64, cb func()) {
	run := func() {
		if j.Closed() || j.gen != gen {
			return
		}
		cb()
	}
	if j.opts.Latency > 0 {
		time.AfterFunc(j.opts.Latency, func() { _ = j.loop.Post(run) })
		return
	}
	_ = j.loop.Post(run)
}
