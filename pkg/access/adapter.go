// Package access is the synchronous block-streaming facade over the stream
// layer.
//
// An Adapter owns the dispatcher loop, the provider registry and metrics for
// one host. Each Handle it opens is bound to exactly one stream.Session for
// its lifetime and exposes the pull-side operations a media pipeline needs:
// Block, Seek, Control and Close.
//
// Lifecycle:
//  1. New: creates the dispatcher loop
//  2. Open / OpenURL: probe, create a session, wait for the provider to open
//  3. Handle.Block / Seek / Control from any goroutine
//  4. Handle.Close, or Adapter.Shutdown to close everything still open
package access

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/registry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

var (
	// ErrShutdown is returned by Open after Shutdown.
	ErrShutdown = errors.New("adapter shut down")

	// ErrRejected is returned by Open when the provider's capability probe
	// refuses the URL.
	ErrRejected = errors.New("rejected by provider")
)

// Config tunes the adapter and every handle it opens.
type Config struct {
	Stream stream.Config

	// OpenTimeout bounds Open. Zero disables the bound.
	OpenTimeout time.Duration

	// SeekTimeout bounds Handle.Seek. Zero disables the bound.
	SeekTimeout time.Duration

	// CloseTimeout bounds Handle.Close. Zero disables the bound.
	CloseTimeout time.Duration

	// PTSDelay is reported for QueryPTSDelay.
	PTSDelay time.Duration
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Stream:       stream.DefaultConfig(),
		OpenTimeout:  30 * time.Second,
		SeekTimeout:  10 * time.Second,
		CloseTimeout: 10 * time.Second,
		PTSDelay:     300 * time.Millisecond,
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMetrics sets the metrics passed to every session. Nil disables them.
func WithMetrics(m stream.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter opens handles and owns the dispatcher they share.
type Adapter struct {
	cfg     Config
	reg     *registry.Registry
	disp    *stream.Dispatcher
	metrics stream.Metrics

	// handles tracks open handles by session ID.
	handles sync.Map

	mu           sync.Mutex
	shutdown     bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an adapter serving the providers in reg.
func New(cfg Config, reg *registry.Registry, opts ...Option) *Adapter {
	a := &Adapter{
		cfg:  cfg,
		reg:  reg,
		disp: stream.NewDispatcher(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the adapter configuration.
func (a *Adapter) Config() Config { return a.cfg }

// Registry returns the provider registry.
func (a *Adapter) Registry() *registry.Registry { return a.reg }

// Open builds scheme + "://" + path and opens it.
func (a *Adapter) Open(ctx context.Context, scheme, path string) (*Handle, error) {
	u, err := registry.BuildURL(scheme, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrOpenFailed, err)
	}
	return a.open(ctx, u)
}

// OpenURL parses raw and opens it.
func (a *Adapter) OpenURL(ctx context.Context, raw string) (*Handle, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", stream.ErrOpenFailed, err)
	}
	return a.open(ctx, u)
}

func (a *Adapter) open(ctx context.Context, u *url.URL) (*Handle, error) {
	if a.IsShutdown() {
		return nil, fmt.Errorf("%w: %w", stream.ErrOpenFailed, ErrShutdown)
	}

	p, err := a.reg.Lookup(u)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrOpenFailed, err)
	}
	if !p.CanOpen(u) {
		return nil, fmt.Errorf("%w: %w %s: %s", stream.ErrOpenFailed, ErrRejected, p.Name(), u.Redacted())
	}

	s := stream.NewSession(u, p, a.disp, a.cfg.Stream, a.metrics)

	ctx, span := telemetry.StartStreamSpan(ctx, telemetry.SpanOpen, s.ID(), p.Name(),
		telemetry.URL(u.Redacted()),
		telemetry.Scheme(u.Scheme),
		telemetry.ReadPolicy(s.ReadPolicy().String()))
	defer span.End()
	ctx = logger.WithContext(ctx, logContext(ctx, "open", s.ID()))

	octx, cancel := withTimeout(ctx, a.cfg.OpenTimeout)
	defer cancel()

	if err := s.Open(octx); err != nil {
		telemetry.RecordError(ctx, err)
		logger.WarnCtx(ctx, "Open failed",
			logger.KeyProvider, p.Name(),
			logger.KeyURL, u.Redacted(),
			logger.KeyError, err)

		cctx, ccancel := withTimeout(context.WithoutCancel(ctx), a.cfg.CloseTimeout)
		defer ccancel()
		_ = s.Close(cctx)
		return nil, err
	}

	info := s.Info()
	telemetry.SetAttributes(ctx, telemetry.Size(info.Size))

	// Shutdown may have taken its snapshot of open handles while this open
	// was in flight; a handle stored now would never be closed.
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		logger.InfoCtx(ctx, "Open finished during shutdown, closing session")

		cctx, ccancel := withTimeout(context.WithoutCancel(ctx), a.cfg.CloseTimeout)
		defer ccancel()
		_ = s.Close(cctx)
		return nil, fmt.Errorf("%w: %w", stream.ErrOpenFailed, ErrShutdown)
	}
	h := &Handle{a: a, s: s, prov: p.Name()}
	a.handles.Store(s.ID(), h)
	a.mu.Unlock()
	return h, nil
}

// Handles returns the open handles ordered by session ID.
func (a *Adapter) Handles() []*Handle {
	var out []*Handle
	a.handles.Range(func(_, v any) bool {
		out = append(out, v.(*Handle))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Lookup returns an open handle by session ID.
func (a *Adapter) Lookup(id string) (*Handle, bool) {
	v, ok := a.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Probe reports whether u can be opened and by which provider, without
// opening it.
func (a *Adapter) Probe(u *url.URL) ProbeResult {
	res := ProbeResult{URL: u.Redacted(), Scheme: u.Scheme}
	p, err := a.reg.Lookup(u)
	if err != nil {
		res.Reason = err.Error()
		return res
	}
	res.Provider = p.Name()
	res.CanOpen = p.CanOpen(u)
	if !res.CanOpen {
		res.Reason = ErrRejected.Error()
	}
	return res
}

// ProbeResult is the outcome of a capability probe.
type ProbeResult struct {
	URL      string `json:"url" yaml:"url"`
	Scheme   string `json:"scheme" yaml:"scheme"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	CanOpen  bool   `json:"can_open" yaml:"can_open"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// IsShutdown reports whether Shutdown has been called.
func (a *Adapter) IsShutdown() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shutdown
}

// Shutdown closes every open handle, then stops the dispatcher. Open fails
// once Shutdown has started. Safe to call more than once; later calls return
// the first result.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.mu.Lock()
		a.shutdown = true
		a.mu.Unlock()

		handles := a.Handles()
		logger.Info("Shutting down adapter", logger.KeyCount, len(handles))

		var errs []error
		var wg sync.WaitGroup
		var errMu sync.Mutex
		for _, h := range handles {
			wg.Add(1)
			go func(h *Handle) {
				defer wg.Done()
				if err := h.Close(ctx); err != nil {
					errMu.Lock()
					errs = append(errs, fmt.Errorf("session %s: %w", h.ID(), err))
					errMu.Unlock()
				}
			}(h)
		}
		wg.Wait()

		if err := a.disp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// logContext derives the log context for one operation on a session.
func logContext(ctx context.Context, op, sessionID string) *logger.LogContext {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext(op)
	} else {
		lc = lc.Clone()
		lc.Operation = op
	}
	lc = lc.WithSession(sessionID)
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		lc = lc.WithTrace(traceID, telemetry.SpanID(ctx))
	}
	return lc
}
