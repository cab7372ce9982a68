package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/kioaccess/internal/logger"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/api/handlers"
	"github.com/marmos91/kioaccess/pkg/metrics"
)

// NewRouter builds the chi router.
//
// Routes:
//   - GET /health - liveness
//   - GET /health/ready - readiness (providers registered, adapter running)
//   - GET /metrics - Prometheus exposition (404 while metrics are disabled)
//   - GET /api/v1/probe?url= - capability probe
//   - GET /api/v1/stream?url= - stream a resource, honoring Range when the size is known
//   - GET /api/v1/sessions - sessions currently open
func NewRouter(a *access.Adapter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	health := handlers.NewHealthHandler(a)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	streams := handlers.NewStreamHandler(a)
	r.Route("/api/v1", func(r chi.Router) {
		// Streams run as long as the client reads; only the short calls
		// get a deadline.
		r.With(middleware.Timeout(30*time.Second)).Get("/probe", streams.Probe)
		r.With(middleware.Timeout(30*time.Second)).Get("/sessions", streams.Sessions)
		r.Get("/stream", streams.Stream)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs each request at DEBUG on arrival and INFO on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lc := logger.NewLogContext("http").WithRequest(middleware.GetReqID(r.Context()), r.RemoteAddr)
		ctx := logger.WithContext(r.Context(), lc)

		logger.DebugCtx(ctx, "API request started",
			logger.KeyMethod, r.Method,
			logger.KeyRoute, r.URL.Path,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.InfoCtx(ctx, "API request completed",
			logger.KeyMethod, r.Method,
			logger.KeyRoute, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		)
	})
}
