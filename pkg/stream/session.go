package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/kioaccess/internal/logger"
)

// Session owns one provider job for the lifetime of an opened resource.
//
// The pull side (Open, Read, Seek, Close) runs on the host's goroutines. Every
// call into the job runs on the dispatcher loop, and every job callback comes
// back on the loop through the session's Events implementation. The session
// mutex serializes both sides.
//
// Seeks are tracked with an epoch. Seek bumps the pull-side epoch and clears
// the buffer; data callbacks that run on the loop before the matching seek
// operation reached the job carry bytes from the old position and are dropped.
//
// Thread Safety:
// All exported methods are safe for concurrent use. Read is expected to be
// called by one goroutine at a time.
type Session struct {
	id       string
	u        *url.URL
	provider Provider
	disp     *Dispatcher
	cfg      Config
	metrics  Metrics

	buf *Buffer
	bp  *Backpressure

	mu        sync.Mutex
	state     State
	job       Job
	info      JobInfo
	completed bool
	position  uint64
	lastErr   *JobError
	openGate  *Gate
	seekEpoch uint64
	loopEpoch uint64
	opened    bool
}

// Stats is a point-in-time view of a session.
type Stats struct {
	ID          string
	URL         string
	Provider    string
	State       State
	ReadPolicy  ReadPolicy
	Position    uint64
	Size        int64
	ContentType string
	Buffered    int
	Outstanding uint64
	Appended    uint64
	Drained     uint64
	Completed   bool
	LastError   *JobError
}

// NewSession creates an unopened session for u served by p. m may be nil.
func NewSession(u *url.URL, p Provider, d *Dispatcher, cfg Config, m Metrics) *Session {
	cfg.applyDefaults()
	if m == nil {
		m = noopMetrics{}
	}
	bp := NewBackpressure(cfg.LowWater, cfg.RequestUnit, cfg.MaxOutstanding)
	return &Session{
		id:       uuid.New().String(),
		u:        u,
		provider: p,
		disp:     d,
		cfg:      cfg,
		metrics:  m,
		bp:       bp,
		buf:      NewBuffer(bp),
		info:     JobInfo{Size: -1},
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// URL returns the URL the session was created for.
func (s *Session) URL() *url.URL { return s.u }

// ReadPolicy returns the session's read policy.
func (s *Session) ReadPolicy() ReadPolicy { return s.cfg.ReadPolicy }

// Open starts the provider job and waits until it reports itself opened,
// fails, or ctx ends. On failure the session is left for the caller to Close.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnopened {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", ErrOpenFailed, st)
	}
	s.state = StateOpening
	s.mu.Unlock()

	logger.Debug("Opening session", s.logArgs()...)

	start := time.Now()
	err := s.disp.Invoke(ctx, s.openOnLoop, true)
	s.metrics.ObserveOpen(s.provider.Name(), time.Since(start), err)
	if err == nil {
		s.mu.Lock()
		s.opened = true
		size := s.info.Size
		s.mu.Unlock()
		logger.Info("Session opened", s.logArgs(
			logger.KeySize, size,
			logger.KeyDurationMs, logger.Duration(start))...)
		return nil
	}

	logger.Warn("Session open failed", s.logArgs(logger.KeyError, err)...)
	if errors.Is(err, ErrOpenFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrOpenFailed, err)
}

func (s *Session) openOnLoop(g *Gate) {
	s.mu.Lock()
	if s.state != StateOpening {
		s.mu.Unlock()
		g.Open(ErrClosed)
		return
	}
	s.openGate = g
	s.mu.Unlock()

	job, err := s.provider.OpenJob(s.u, s.disp, sessionEvents{s})

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		if job != nil {
			job.Close()
		}
		g.Open(ErrClosed)
		return
	}
	if err != nil {
		if s.state == StateOpening {
			s.state = StateError
		}
		s.lastErr = asJobError(err)
		s.openGate = nil
		s.mu.Unlock()
		g.Open(fmt.Errorf("%w: %v", ErrOpenFailed, err))
		return
	}
	s.job = job

	// A provider may have reported Opened before OpenJob returned.
	var n uint64
	if s.state == StateStreaming {
		n = s.bp.RequestMore(uint64(s.buf.Len()))
	}
	s.mu.Unlock()

	s.issueOnLoop(job, n)
}

// Read returns the next block of at most Config.BlockSize bytes.
//
// Return values follow io.Reader conventions:
//   - (p, nil): a block of data.
//   - (nil, nil): nothing buffered yet under the non-blocking policy; retry.
//   - (nil, io.EOF): end of stream. Provider errors surface this way too and
//     are kept in Stats().LastError.
//   - (p, err): data was returned but the follow-up read could not be
//     dispatched; the next call will report the failure.
//   - (nil, ErrDispatchUnavailable): the buffer is empty and the dispatcher
//     loop has stopped, so no more data can arrive.
func (s *Session) Read(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		switch s.state {
		case StateClosed:
			s.mu.Unlock()
			return nil, ErrClosed
		case StateUnopened, StateOpening:
			s.mu.Unlock()
			return nil, ErrNotOpen
		}

		if p := s.buf.Drain(s.cfg.BlockSize); p != nil {
			s.position += uint64(len(p))
			err := s.topUpLocked()
			s.mu.Unlock()
			s.metrics.RecordBlock(s.provider.Name(), len(p))
			return p, err
		}

		if s.state == StateEOF || s.state == StateError {
			s.mu.Unlock()
			return nil, io.EOF
		}

		if err := s.topUpLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}

		if s.disp.Stopped() {
			s.mu.Unlock()
			s.metrics.RecordDispatchFailure(s.provider.Name())
			return nil, fmt.Errorf("read: %w", ErrDispatchUnavailable)
		}

		if s.cfg.ReadPolicy == ReadNonBlocking {
			s.mu.Unlock()
			return nil, nil
		}

		// Taken under the session lock: callbacks hold it while appending,
		// so no wake-up can slip in between the check and the wait.
		ready := s.buf.Wait()
		s.mu.Unlock()

		select {
		case <-ready:
		case <-s.disp.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ready returns a channel that is closed once Read may make progress. It is
// already closed when data is buffered or the stream has ended.
func (s *Session) Ready() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStreaming || s.state == StateSeeking {
		if s.buf.Len() == 0 && !s.disp.Stopped() {
			return s.buf.Wait()
		}
	}
	return closedChan
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// topUpLocked asks the loop for another provider read when backpressure
// allows it. While seeking, reads wait until the loop has handed the seek to
// the job. Must be called with s.mu held.
func (s *Session) topUpLocked() error {
	if !s.readableLocked() || s.completed {
		return nil
	}
	n := s.bp.RequestMore(uint64(s.buf.Len()))
	if n == 0 {
		return nil
	}
	epoch := s.seekEpoch
	if err := s.disp.Post(func() { s.readOnLoop(epoch, n) }); err != nil {
		s.bp.Cancel(n)
		s.metrics.RecordDispatchFailure(s.provider.Name())
		return fmt.Errorf("dispatch read: %w", err)
	}
	return nil
}

// readableLocked reports whether a provider read issued now would be served
// from the current position.
func (s *Session) readableLocked() bool {
	switch s.state {
	case StateStreaming:
		return true
	case StateSeeking:
		return s.loopEpoch == s.seekEpoch
	}
	return false
}

func (s *Session) readOnLoop(epoch, n uint64) {
	s.mu.Lock()
	if !s.readableLocked() || epoch != s.seekEpoch || s.job == nil {
		s.mu.Unlock()
		return
	}
	job := s.job
	s.mu.Unlock()

	s.issueOnLoop(job, n)
}

func (s *Session) issueOnLoop(job Job, n uint64) {
	if job == nil || n == 0 {
		return
	}
	s.metrics.RecordReadIssued(s.provider.Name(), n)
	job.Read(int(n))
}

// Seek moves the read position to offset. Buffered data is discarded
// immediately; Seek returns once the seek has been handed to the job on the
// loop, without waiting for the provider to acknowledge it. Nothing is
// requested from the new position until the next Read.
//
// Seeking is allowed after natural end-of-stream but not after the job has
// completed.
func (s *Session) Seek(ctx context.Context, offset uint64) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateUnopened, StateOpening:
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.job == nil {
		s.mu.Unlock()
		return ErrNotOpen
	}
	if s.completed {
		s.mu.Unlock()
		return ErrJobCompleted
	}

	s.state = StateSeeking
	s.buf.Clear()
	s.bp.Reset()
	s.position = offset
	s.seekEpoch++
	epoch := s.seekEpoch
	s.mu.Unlock()

	s.metrics.RecordSeek(s.provider.Name())
	logger.Debug("Seeking", s.logArgs(logger.KeyOffset, offset)...)

	err := s.disp.Invoke(ctx, func(g *Gate) { s.seekOnLoop(g, epoch, offset) }, true)
	if err != nil {
		if errors.Is(err, ErrDispatchUnavailable) {
			s.metrics.RecordDispatchFailure(s.provider.Name())
		}
		return fmt.Errorf("seek to %d: %w", offset, err)
	}
	return nil
}

func (s *Session) seekOnLoop(g *Gate, epoch, offset uint64) {
	s.mu.Lock()
	if s.state == StateClosed || epoch != s.seekEpoch || s.job == nil {
		// Closed, or superseded by a later seek.
		s.mu.Unlock()
		g.Open(nil)
		return
	}
	s.loopEpoch = epoch
	job := s.job
	// A reader parked during the seek may now request from the new offset.
	s.buf.Wake()
	s.mu.Unlock()

	job.Seek(offset)
	g.Open(nil)
}

// Close stops the job and releases the session. Close is idempotent and
// unblocks a pending Open.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	g := s.openGate
	s.openGate = nil
	opened := s.opened
	s.buf.Clear()
	s.bp.Reset()
	s.mu.Unlock()

	if g != nil {
		g.Open(ErrClosed)
	}
	if opened {
		s.metrics.RecordSessionClosed(s.provider.Name())
	}

	err := s.disp.Invoke(ctx, func(g *Gate) {
		s.mu.Lock()
		job := s.job
		s.job = nil
		s.mu.Unlock()
		if job != nil {
			job.Close()
		}
		g.Open(nil)
	}, true)
	if err != nil {
		logger.Warn("Session close did not reach the job", s.logArgs(logger.KeyError, err)...)
		return fmt.Errorf("close: %w", err)
	}

	logger.Debug("Session closed", s.logArgs()...)
	return nil
}

// Position returns the offset of the next byte Read will return.
func (s *Session) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Info returns what the provider reported when the job opened.
func (s *Session) Info() JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent provider error, if any.
func (s *Session) LastError() *JobError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	appended, drained := s.buf.Totals()
	return Stats{
		ID:          s.id,
		URL:         s.u.Redacted(),
		Provider:    s.provider.Name(),
		State:       s.state,
		ReadPolicy:  s.cfg.ReadPolicy,
		Position:    s.position,
		Size:        s.info.Size,
		ContentType: s.info.ContentType,
		Buffered:    s.buf.Len(),
		Outstanding: s.bp.Outstanding(),
		Appended:    appended,
		Drained:     drained,
		Completed:   s.completed,
		LastError:   s.lastErr,
	}
}

func (s *Session) logArgs(args ...any) []any {
	return append([]any{
		logger.KeySessionID, s.id,
		logger.KeyProvider, s.provider.Name(),
		logger.KeyURL, s.u.Redacted(),
	}, args...)
}

// sessionEvents adapts the session to the provider Events contract. Every
// method runs on the loop.
type sessionEvents struct {
	s *Session
}

func (e sessionEvents) Opened(info JobInfo) {
	s := e.s
	s.mu.Lock()
	if s.state != StateOpening {
		st := s.state
		s.mu.Unlock()
		logger.Debug("Ignoring open notification", s.logArgs(logger.KeyState, st.String())...)
		return
	}
	s.state = StateStreaming
	s.info = info
	g := s.openGate
	s.openGate = nil
	job := s.job
	var n uint64
	if job != nil {
		n = s.bp.RequestMore(uint64(s.buf.Len()))
	}
	s.mu.Unlock()

	s.issueOnLoop(job, n)
	if g != nil {
		g.Open(nil)
	}
}

func (e sessionEvents) DataArrived(p []byte) {
	s := e.s
	s.mu.Lock()
	if s.loopEpoch != s.seekEpoch {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateStreaming, StateSeeking:
	default:
		s.mu.Unlock()
		return
	}

	if len(p) == 0 {
		s.state = StateEOF
		s.bp.Reset()
		s.buf.Wake()
		s.mu.Unlock()
		logger.Debug("Provider reached end of stream", s.logArgs(logger.KeyOffset, s.position)...)
		return
	}

	s.state = StateStreaming
	s.buf.Append(p)
	job := s.job
	var n uint64
	if job != nil && !s.completed {
		n = s.bp.RequestMore(uint64(s.buf.Len()))
	}
	s.mu.Unlock()

	s.metrics.RecordBytesDelivered(s.provider.Name(), len(p))
	s.issueOnLoop(job, n)
}

func (e sessionEvents) PositionChanged(offset uint64) {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSeeking || s.loopEpoch != s.seekEpoch {
		return
	}
	// Nothing has been buffered since the seek, so the provider's cursor is
	// the consumer's.
	s.position = offset
	s.state = StateStreaming
	s.buf.Wake()
}

func (e sessionEvents) Completed(err error) {
	s := e.s
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.bp.Reset()

	if s.state == StateOpening {
		s.state = StateError
		if err == nil {
			err = NewJobError(0, "job completed before opening", nil)
		}
		s.lastErr = asJobError(err)
		g := s.openGate
		s.openGate = nil
		s.mu.Unlock()
		if g != nil {
			g.Open(fmt.Errorf("%w: %v", ErrOpenFailed, err))
		}
		return
	}

	if err != nil {
		je := asJobError(err)
		s.lastErr = je
		s.state = StateError
		s.buf.Wake()
		s.mu.Unlock()
		s.metrics.RecordProviderError(s.provider.Name(), je.Code)
		logger.Warn("Provider job failed", s.logArgs(
			logger.KeyError, je.Error(),
			logger.KeyErrorCode, je.Code)...)
		return
	}

	s.state = StateEOF
	s.buf.Wake()
	s.mu.Unlock()
	logger.Debug("Provider job completed", s.logArgs()...)
}
