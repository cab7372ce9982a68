package logger

import "log/slog"

// Standard field keys. Use them consistently so logs can be aggregated and
// queried across commands.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Sessions and providers
	KeySessionID = "session_id"
	KeyProvider  = "provider"
	KeyURL       = "url"
	KeyScheme    = "scheme"
	KeyState     = "state"
	KeyPolicy    = "read_policy"

	// Stream I/O
	KeyOffset      = "offset"
	KeySize        = "size"
	KeyCount       = "count"
	KeyBytes       = "bytes"
	KeyBuffered    = "buffered"
	KeyOutstanding = "outstanding"
	KeyEOF         = "eof"

	// Requests
	KeyRequestID = "request_id"
	KeyClientIP  = "client_ip"
	KeyMethod    = "method"
	KeyRoute     = "route"
	KeyStatus    = "status"

	// Operation metadata
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"

	// Object storage
	KeyBucket = "bucket"
	KeyKey    = "key"
	KeyRegion = "region"
)

// SessionID returns a session_id attribute.
func SessionID(id string) slog.Attr { return slog.String(KeySessionID, id) }

// Provider returns a provider attribute.
func Provider(name string) slog.Attr { return slog.String(KeyProvider, name) }

// URL returns a url attribute. Pass redacted URLs only.
func URL(u string) slog.Attr { return slog.String(KeyURL, u) }

// Offset returns an offset attribute.
func Offset(off uint64) slog.Attr { return slog.Uint64(KeyOffset, off) }

// Size returns a size attribute; -1 means unknown.
func Size(n int64) slog.Attr { return slog.Int64(KeySize, n) }

// Bytes returns a byte count attribute.
func Bytes(n int) slog.Attr { return slog.Int(KeyBytes, n) }

// DurationMs returns a duration_ms attribute.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an error attribute, or an empty attribute for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns an error_code attribute.
func ErrorCode(code int) slog.Attr { return slog.Int(KeyErrorCode, code) }

// Bucket returns a bucket attribute.
func Bucket(name string) slog.Attr { return slog.String(KeyBucket, name) }

// Key returns an object key attribute.
func Key(k string) slog.Attr { return slog.String(KeyKey, k) }
