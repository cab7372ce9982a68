// Package httprange provides a stream.Provider for http:// and https:// URLs
// using Range requests.
//
// The size is taken from a HEAD request, or from the Content-Range of a
// one-byte ranged GET when the server rejects HEAD or omits Content-Length.
// Each body is a single open-ended range ("bytes=N-") read sequentially; a
// seek opens a new one. Servers that ignore Range are still usable: the
// prefix is discarded, up to MaxDiscard bytes.
package httprange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/provider/rangejob"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// Name identifies the provider in logs and metrics.
const Name = "http"

// MaxDiscard is the most bytes skipped to emulate a seek on a server without
// range support.
const MaxDiscard = 8 << 20

// Config holds configuration for the HTTP provider.
type Config struct {
	// Timeout bounds the wait for response headers. Zero means no limit.
	Timeout time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// Headers are added to every request.
	Headers map[string]string
}

// Provider opens HTTP resources.
type Provider struct {
	cfg    Config
	client *http.Client
	opts   rangejob.Options
}

// New creates an HTTP provider. A nil metrics disables fetch metrics.
func New(cfg Config, m rangejob.Metrics) *Provider {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return NewWithClient(cfg, &http.Client{Transport: transport}, m)
}

// NewWithClient creates an HTTP provider using client for every request.
func NewWithClient(cfg Config, client *http.Client, m rangejob.Metrics) *Provider {
	return &Provider{
		cfg:    cfg,
		client: client,
		opts:   rangejob.Options{Name: Name, Metrics: m},
	}
}

func (p *Provider) Name() string { return Name }

// CanOpen accepts absolute http and https URLs. It does not touch the network.
func (p *Provider) CanOpen(u *url.URL) bool {
	if u == nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// OpenJob starts a job fetching u.
func (p *Provider) OpenJob(u *url.URL, loop stream.Loop, events stream.Events) (stream.Job, error) {
	if !p.CanOpen(u) {
		return nil, stream.NewJobError(http.StatusBadRequest, "not an http URL", nil)
	}
	src := &source{p: p, url: u.String(), redacted: u.Redacted(), size: -1}
	return rangejob.Start(src, loop, events, p.opts), nil
}

func (p *Provider) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, stream.NewJobError(http.StatusBadRequest, "invalid request", err)
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// source is one remote resource. It is only used by its job's worker.
type source struct {
	p        *Provider
	url      string
	redacted string
	size     int64
}

func (s *source) Stat(ctx context.Context) (stream.JobInfo, error) {
	ctx, span := telemetry.StartProviderSpan(ctx, telemetry.SpanHTTPStat, telemetry.URL(s.redacted))
	defer span.End()

	info, err := s.head(ctx)
	var je *stream.JobError
	switch {
	case err == nil && info.Size < 0:
		// No length; a ranged probe usually reveals it.
		if probed, perr := s.probe(ctx); perr == nil && probed.Size >= 0 {
			info.Size = probed.Size
		}
	case errors.As(err, &je) && (je.Code == http.StatusMethodNotAllowed || je.Code == http.StatusNotImplemented):
		info, err = s.probe(ctx)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return stream.JobInfo{}, err
	}

	s.size = info.Size
	telemetry.SetAttributes(ctx, telemetry.Size(info.Size))
	logger.DebugCtx(ctx, "HTTP resource opened",
		logger.KeyURL, s.redacted,
		logger.KeySize, info.Size)
	return info, nil
}

func (s *source) head(ctx context.Context) (stream.JobInfo, error) {
	req, err := s.p.newRequest(ctx, http.MethodHead, s.url)
	if err != nil {
		return stream.JobInfo{}, err
	}
	resp, err := s.p.client.Do(req)
	if err != nil {
		return stream.JobInfo{}, fmt.Errorf("HEAD %s: %w", s.redacted, err)
	}
	discard(resp)

	telemetry.SetAttributes(ctx, telemetry.HTTPStatus(resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return stream.JobInfo{}, statusError(resp)
	}
	return stream.JobInfo{
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// probe requests the first byte and reads the total from Content-Range.
func (s *source) probe(ctx context.Context) (stream.JobInfo, error) {
	req, err := s.p.newRequest(ctx, http.MethodGet, s.url)
	if err != nil {
		return stream.JobInfo{}, err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.p.client.Do(req)
	if err != nil {
		return stream.JobInfo{}, fmt.Errorf("GET %s: %w", s.redacted, err)
	}
	defer discard(resp)

	info := stream.JobInfo{Size: -1, ContentType: resp.Header.Get("Content-Type")}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		if _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok {
			info.Size = total
		}
	case http.StatusOK:
		info.Size = resp.ContentLength
	case http.StatusRequestedRangeNotSatisfiable:
		// Not even one byte.
		info.Size = 0
	default:
		return stream.JobInfo{}, statusError(resp)
	}
	return info, nil
}

func (s *source) OpenAt(ctx context.Context, offset uint64) (io.ReadCloser, error) {
	if s.size >= 0 && offset >= uint64(s.size) {
		return nil, io.EOF
	}

	rng := fmt.Sprintf("bytes=%d-", offset)
	ctx, span := telemetry.StartProviderSpan(ctx, telemetry.SpanHTTPFetch,
		telemetry.URL(s.redacted), telemetry.Range(rng))
	defer span.End()

	req, err := s.p.newRequest(ctx, http.MethodGet, s.url)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", rng)
	}
	resp, err := s.p.client.Do(req)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("GET %s: %w", s.redacted, err)
	}
	telemetry.SetAttributes(ctx, telemetry.HTTPStatus(resp.StatusCode))

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if start, _, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && uint64(start) != offset {
			discard(resp)
			return nil, stream.NewJobError(http.StatusBadGateway,
				fmt.Sprintf("asked for offset %d, server sent %d", offset, start), nil)
		}
		return resp.Body, nil

	case http.StatusOK:
		if offset == 0 {
			return resp.Body, nil
		}
		if offset > MaxDiscard {
			discard(resp)
			return nil, stream.NewJobError(http.StatusNotImplemented, "server does not support range requests", nil)
		}
		logger.Debug("Server ignored range, discarding prefix",
			logger.KeyURL, s.redacted,
			logger.KeyOffset, offset)
		if _, err := io.CopyN(io.Discard, resp.Body, int64(offset)); err != nil {
			discard(resp)
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("skip to %d: %w", offset, err)
		}
		return resp.Body, nil

	case http.StatusRequestedRangeNotSatisfiable:
		discard(resp)
		return nil, io.EOF

	default:
		discard(resp)
		err := statusError(resp)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
}

// statusError maps an unexpected response to a job error carrying the status.
func statusError(resp *http.Response) *stream.JobError {
	var msg string
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		msg = "authentication required"
	case http.StatusForbidden:
		msg = "access denied"
	case http.StatusNotFound:
		msg = "not found"
	default:
		msg = http.StatusText(resp.StatusCode)
		if msg == "" {
			msg = "unexpected status"
		}
	}
	return stream.NewJobError(resp.StatusCode, msg, nil)
}

// parseContentRange parses "bytes start-end/total". total is -1 for "*".
func parseContentRange(v string) (start, total int64, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !found {
		return 0, 0, false
	}
	span, size, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}
	first, _, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	total = -1
	if size = strings.TrimSpace(size); size != "*" {
		total, err = strconv.ParseInt(size, 10, 64)
		if err != nil || total < 0 {
			return 0, 0, false
		}
	}
	return start, total, true
}

// discard drains a little of the body so the connection can be reused, then
// closes it.
func discard(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
	_ = resp.Body.Close()
}
