package stream

import (
	"net/url"
)

// Loop is the affinity goroutine providers post their callbacks to.
//
// A provider performs blocking I/O on its own goroutines, then posts a closure
// that invokes the matching Events method. Post never blocks.
type Loop interface {
	Post(op func()) error
}

// JobInfo describes a resource once its job reports itself opened.
type JobInfo struct {
	// Size is the total size in bytes, or -1 when the provider cannot tell.
	Size int64

	// ContentType is the provider's best guess at the media type. Optional.
	ContentType string
}

// SizeKnown reports whether the provider announced a total size.
func (i JobInfo) SizeKnown() bool {
	return i.Size >= 0
}

// Events receives provider notifications. Every method is invoked on the loop
// goroutine and must not block.
type Events interface {
	// Opened fires once when the job is ready to serve reads.
	Opened(info JobInfo)

	// DataArrived delivers bytes produced by a previous Read, in order.
	// p is only valid for the duration of the call.
	// A zero-length p signals natural end-of-stream: the job stays alive and
	// may still be sought.
	DataArrived(p []byte)

	// PositionChanged reports the job's read cursor. It is how a provider
	// acknowledges a Seek.
	PositionChanged(offset uint64)

	// Completed fires once when the job terminates. A nil err means the job
	// finished cleanly; a non-nil err is preferably a *JobError.
	Completed(err error)
}

// Job is one open provider operation. All methods are called on the loop and
// must return promptly; results come back through Events.
//
// After Seek returns the job must not deliver data belonging to the previous
// position. After Close returns the job must not call Events again, although
// callbacks it already posted may still run and are ignored by the session.
type Job interface {
	Read(n int)
	Seek(offset uint64)
	Close()
}

// Provider opens jobs for one or more URL schemes.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// CanOpen is the capability probe. It must be cheap and side-effect free.
	CanOpen(u *url.URL) bool

	// OpenJob starts a job for u. It is called on the loop. A returned error
	// fails the open immediately; otherwise the job later calls events.Opened
	// or events.Completed.
	OpenJob(u *url.URL, loop Loop, events Events) (Job, error)
}
