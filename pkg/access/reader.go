package access

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Reader adapts a Handle to io.ReadSeekCloser.
//
// Seeks are lazy: Seek only records the target, skipping forward inside data
// already drained when it can, and the next Read asks the provider to seek
// only if the target differs from the handle's position.
type Reader struct {
	h   *Handle
	ctx context.Context

	pos     int64
	pending []byte
	sought  bool
	err     error
}

var _ io.ReadSeekCloser = (*Reader)(nil)

// NewReader returns a Reader over h. ctx bounds every blocking call the
// Reader makes.
func NewReader(ctx context.Context, h *Handle) *Reader {
	return &Reader{h: h, ctx: ctx, pos: int64(h.Position())}
}

// Handle returns the underlying handle.
func (r *Reader) Handle() *Handle { return r.h }

// Read implements io.Reader. It waits for data under either read policy.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.err != nil {
			err := r.err
			r.err = nil
			return 0, err
		}
		if r.sought {
			r.sought = false
			if uint64(r.pos) != r.h.Position() {
				if err := r.h.Seek(r.ctx, uint64(r.pos)); err != nil {
					return 0, err
				}
			}
		}

		b, err := r.h.Block(r.ctx)
		if len(b) > 0 {
			r.pending = b
			r.err = err
			break
		}
		if err != nil {
			return 0, err
		}

		select {
		case <-r.h.Ready():
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	r.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. io.SeekEnd needs a known size.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		size, ok := r.h.Size()
		if !ok {
			return 0, errors.New("seek from end: size not known")
		}
		abs = int64(size) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}

	if abs == r.pos {
		return abs, nil
	}
	if abs > r.pos && abs-r.pos <= int64(len(r.pending)) {
		r.pending = r.pending[abs-r.pos:]
		r.pos = abs
		return abs, nil
	}

	r.pending = nil
	r.err = nil
	r.pos = abs
	r.sought = true
	return abs, nil
}

// Close closes the underlying handle.
func (r *Reader) Close() error {
	return r.h.Close(context.WithoutCancel(r.ctx))
}
