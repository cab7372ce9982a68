package handlers

import (
	"net/http"
	"time"

	"github.com/marmos91/kioaccess/pkg/access"
)

// HealthHandler serves the health endpoints.
type HealthHandler struct {
	adapter   *access.Adapter
	startedAt time.Time
}

// NewHealthHandler creates a health handler. a may be nil, in which case
// readiness always fails.
func NewHealthHandler(a *access.Adapter) *HealthHandler {
	return &HealthHandler{adapter: a, startedAt: time.Now()}
}

// LivenessData is the payload of GET /health.
type LivenessData struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Liveness handles GET /health. It succeeds as long as the process serves
// requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startedAt)
	writeJSON(w, http.StatusOK, healthyResponse(LivenessData{
		Service:   "kioaccess",
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}))
}

// ReadinessData is the payload of GET /health/ready.
type ReadinessData struct {
	Schemes  []string `json:"schemes"`
	Sessions int      `json:"sessions"`
}

// Readiness handles GET /health/ready: 200 once at least one provider is
// registered and the adapter accepts opens, 503 otherwise.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.adapter == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("adapter not initialized"))
		return
	}
	if h.adapter.IsShutdown() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("shutting down"))
		return
	}
	schemes := h.adapter.Registry().Schemes()
	if len(schemes) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no providers registered"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(ReadinessData{
		Schemes:  schemes,
		Sessions: len(h.adapter.Handles()),
	}))
}
