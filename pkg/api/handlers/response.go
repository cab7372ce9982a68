package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response wraps every JSON body the API returns.
//
// Status is "healthy"/"unhealthy" for health endpoints and "ok"/"error"
// elsewhere.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone by now; an encoding failure can only be dropped.
	_ = json.NewEncoder(w).Encode(resp)
}

func newResponse(status string, data any, errMsg string) Response {
	return Response{Status: status, Timestamp: time.Now().UTC(), Data: data, Error: errMsg}
}

func healthyResponse(data any) Response     { return newResponse("healthy", data, "") }
func unhealthyResponse(msg string) Response { return newResponse("unhealthy", nil, msg) }
func okResponse(data any) Response          { return newResponse("ok", data, "") }
func errorResponse(msg string) Response     { return newResponse("error", nil, msg) }
