package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/internal/telemetry"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/registry"
	"github.com/marmos91/kioaccess/pkg/stream"
)

// StreamHandler serves the /api/v1 endpoints.
type StreamHandler struct {
	adapter *access.Adapter
}

// NewStreamHandler creates a handler opening resources through a.
func NewStreamHandler(a *access.Adapter) *StreamHandler {
	return &StreamHandler{adapter: a}
}

// targetURL reads and parses the url query parameter, answering 400 itself
// when it is missing or malformed.
func targetURL(w http.ResponseWriter, r *http.Request) (*url.URL, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing url parameter"))
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid url parameter"))
		return nil, false
	}
	return u, true
}

// Probe handles GET /api/v1/probe?url=. It always answers 200 for a well
// formed URL; can_open carries the verdict.
func (h *StreamHandler) Probe(w http.ResponseWriter, r *http.Request) {
	u, ok := targetURL(w, r)
	if !ok {
		return
	}

	_, span := telemetry.StartSpan(r.Context(), telemetry.SpanAPIProbe,
		trace.WithAttributes(telemetry.URL(u.Redacted()), telemetry.Scheme(u.Scheme)))
	defer span.End()

	writeJSON(w, http.StatusOK, okResponse(h.adapter.Probe(u)))
}

// Stream handles GET /api/v1/stream?url=. The resource is opened for the
// duration of the request. With a known size, Range and HEAD are served by
// http.ServeContent; otherwise the body is copied until end of stream.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	u, ok := targetURL(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.SpanAPIStream,
		trace.WithAttributes(telemetry.URL(u.Redacted()), telemetry.Scheme(u.Scheme)))
	defer span.End()

	handle, err := h.adapter.OpenURL(ctx, u.String())
	if err != nil {
		telemetry.RecordError(ctx, err)
		status := openFailureStatus(err)
		telemetry.SetAttributes(ctx, telemetry.HTTPStatus(status))
		writeJSON(w, status, errorResponse(err.Error()))
		return
	}
	// Close outlives the request context so a client hang-up still releases
	// the session.
	defer func() { _ = handle.Close(context.WithoutCancel(ctx)) }()

	telemetry.SetAttributes(ctx, telemetry.SessionID(handle.ID()))

	contentType := handle.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Session-Id", handle.ID())

	rd := access.NewReader(ctx, handle)
	if _, known := handle.Size(); known {
		http.ServeContent(w, r, "", time.Time{}, rd)
		return
	}

	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, rd)
	if err != nil && ctx.Err() == nil {
		logger.WarnCtx(ctx, "Stream copy failed",
			logger.KeySessionID, handle.ID(),
			logger.KeyBytes, n,
			logger.KeyError, err)
	}
}

// openFailureStatus maps an open failure to an HTTP status.
func openFailureStatus(err error) int {
	var jobErr *stream.JobError
	switch {
	case errors.Is(err, registry.ErrNoProvider):
		return http.StatusBadRequest
	case errors.Is(err, access.ErrRejected):
		return http.StatusNotFound
	case errors.Is(err, access.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &jobErr) && jobErr.Code >= 400 && jobErr.Code < 600:
		return jobErr.Code
	}
	return http.StatusBadGateway
}

// SessionInfo describes one open session.
type SessionInfo struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Provider    string `json:"provider"`
	State       string `json:"state"`
	ReadPolicy  string `json:"read_policy"`
	Position    uint64 `json:"position"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	Buffered    int    `json:"buffered"`
	Outstanding uint64 `json:"outstanding"`
	LastError   string `json:"last_error,omitempty"`
}

// NewSessionInfo converts session stats for display.
func NewSessionInfo(st stream.Stats) SessionInfo {
	info := SessionInfo{
		ID:          st.ID,
		URL:         st.URL,
		Provider:    st.Provider,
		State:       st.State.String(),
		ReadPolicy:  st.ReadPolicy.String(),
		Position:    st.Position,
		Size:        st.Size,
		ContentType: st.ContentType,
		Buffered:    st.Buffered,
		Outstanding: st.Outstanding,
	}
	if st.LastError != nil {
		info.LastError = st.LastError.Error()
	}
	return info
}

// Sessions handles GET /api/v1/sessions.
func (h *StreamHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	handles := h.adapter.Handles()
	out := make([]SessionInfo, 0, len(handles))
	for _, hd := range handles {
		out = append(out, NewSessionInfo(hd.Stats()))
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}
