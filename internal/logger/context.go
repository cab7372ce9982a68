package logger

import (
	"context"
	"time"
)

type contextKey struct{}

// LogContext carries request-scoped fields that the *Ctx functions prepend to
// every record.
type LogContext struct {
	TraceID   string
	SpanID    string
	RequestID string // HTTP request ID (serve)
	SessionID string // stream session ID
	Operation string // open, read, seek, close, probe
	ClientIP  string
	StartTime time.Time
}

// WithContext stores lc in ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext stored in ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

// NewLogContext starts a context for an operation.
func NewLogContext(operation string) *LogContext {
	return &LogContext{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// Clone returns a copy of lc.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithSession returns a copy with the session ID set.
func (lc *LogContext) WithSession(id string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.SessionID = id
	}
	return c
}

// WithRequest returns a copy with the request ID and client address set.
func (lc *LogContext) WithRequest(requestID, clientIP string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.RequestID = requestID
		c.ClientIP = clientIP
	}
	return c
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the milliseconds elapsed since StartTime.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}
