package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrSessionID  = "stream.session_id"
	AttrProvider   = "stream.provider"
	AttrScheme     = "stream.scheme"
	AttrURL        = "stream.url"
	AttrOffset     = "stream.offset"
	AttrSize       = "stream.size"
	AttrCount      = "stream.count"
	AttrReadPolicy = "stream.read_policy"
	AttrQuery      = "stream.control_query"

	AttrHTTPStatus = "http.response.status_code"
	AttrRange      = "http.request.range"

	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"
	AttrPath   = "file.path"
)

// Span names.
const (
	SpanOpen    = "stream.open"
	SpanSeek    = "stream.seek"
	SpanClose   = "stream.close"
	SpanControl = "stream.control"

	SpanHTTPStat  = "provider.http.stat"
	SpanHTTPFetch = "provider.http.fetch"
	SpanS3Stat    = "provider.s3.head"
	SpanS3Fetch   = "provider.s3.get"
	SpanFileOpen  = "provider.file.open"

	SpanAPIProbe  = "api.probe"
	SpanAPIStream = "api.stream"
)

func SessionID(id string) attribute.KeyValue { return attribute.String(AttrSessionID, id) }
func Provider(name string) attribute.KeyValue { return attribute.String(AttrProvider, name) }
func Scheme(s string) attribute.KeyValue      { return attribute.String(AttrScheme, s) }

// URL expects an already redacted URL.
func URL(u string) attribute.KeyValue { return attribute.String(AttrURL, u) }

func Offset(off uint64) attribute.KeyValue { return attribute.Int64(AttrOffset, int64(off)) }
func Size(n int64) attribute.KeyValue      { return attribute.Int64(AttrSize, n) }
func Count(n int) attribute.KeyValue       { return attribute.Int(AttrCount, n) }
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}
func Range(r string) attribute.KeyValue       { return attribute.String(AttrRange, r) }
func Bucket(name string) attribute.KeyValue   { return attribute.String(AttrBucket, name) }
func StorageKey(k string) attribute.KeyValue  { return attribute.String(AttrKey, k) }
func Region(r string) attribute.KeyValue      { return attribute.String(AttrRegion, r) }
func FilePath(p string) attribute.KeyValue    { return attribute.String(AttrPath, p) }
func ControlQuery(q string) attribute.KeyValue { return attribute.String(AttrQuery, q) }
func ReadPolicy(p string) attribute.KeyValue   { return attribute.String(AttrReadPolicy, p) }

// StartStreamSpan starts a span for a pull-side stream operation.
func StartStreamSpan(ctx context.Context, name, sessionID, provider string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{SessionID(sessionID), Provider(provider)}, attrs...)
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(all...))
}

// StartProviderSpan starts a client span for provider I/O against a backend.
func StartProviderSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}
