package access

import (
	"context"
	"net/url"
	"sync"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Handle is one opened resource. It owns a stream.Session for its lifetime.
//
// Thread Safety:
// All methods are safe for concurrent use. Block is expected to be called by
// one goroutine at a time.
type Handle struct {
	a    *Adapter
	s    *stream.Session
	prov string

	closeOnce sync.Once
	closeErr  error
}

// ID returns the session ID.
func (h *Handle) ID() string { return h.s.ID() }

// URL returns the opened URL.
func (h *Handle) URL() *url.URL { return h.s.URL() }

// Block returns the next block of at most stream.Config.BlockSize bytes.
//
//   - (p, nil): a block of data.
//   - (nil, nil): no data yet (non-blocking policy, or a seek in progress);
//     retry shortly or wait on Ready.
//   - (nil, io.EOF): end of stream. Provider failures end the stream this way
//     and are kept in Stats().LastError.
//   - (p, err): p was drained but the follow-up request could not be
//     dispatched.
func (h *Handle) Block(ctx context.Context) ([]byte, error) {
	return h.s.Read(ctx)
}

// Ready returns a channel closed once Block may make progress.
func (h *Handle) Ready() <-chan struct{} {
	return h.s.Ready()
}

// Seek moves the read position to offset. Buffered data is dropped and Block
// returns (nil, nil) until data from the new position arrives.
func (h *Handle) Seek(ctx context.Context, offset uint64) error {
	ctx, span := telemetry.StartStreamSpan(ctx, telemetry.SpanSeek, h.ID(), h.prov,
		telemetry.Offset(offset))
	defer span.End()

	sctx, cancel := withTimeout(ctx, h.a.cfg.SeekTimeout)
	defer cancel()

	if err := h.s.Seek(sctx, offset); err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(logger.WithContext(ctx, logContext(ctx, "seek", h.ID())), "Seek failed",
			logger.KeyOffset, offset,
			logger.KeyError, err)
		return err
	}
	return nil
}

// Close releases the session and removes the handle from its adapter. Close
// is idempotent; later calls return the first result.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		ctx, span := telemetry.StartStreamSpan(ctx, telemetry.SpanClose, h.ID(), h.prov)
		defer span.End()

		cctx, cancel := withTimeout(ctx, h.a.cfg.CloseTimeout)
		defer cancel()

		h.closeErr = h.s.Close(cctx)
		h.a.handles.Delete(h.ID())
		if h.closeErr != nil {
			telemetry.RecordError(ctx, h.closeErr)
		}
	})
	return h.closeErr
}

// Position returns the offset of the next byte Block will return.
func (h *Handle) Position() uint64 { return h.s.Position() }

// Size returns the total size and whether the provider reported one.
func (h *Handle) Size() (uint64, bool) {
	info := h.s.Info()
	if !info.SizeKnown() {
		return 0, false
	}
	return uint64(info.Size), true
}

// ContentType returns the provider's media type guess, if any.
func (h *Handle) ContentType() string { return h.s.Info().ContentType }

// State returns the session state.
func (h *Handle) State() stream.State { return h.s.State() }

// Stats returns a snapshot of the underlying session.
func (h *Handle) Stats() stream.Stats { return h.s.Stats() }
