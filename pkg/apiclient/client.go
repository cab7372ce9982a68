// Package apiclient is a client for the kioaccess HTTP API.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/api/handlers"
)

// Client talks to one kioaccess server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// envelope mirrors handlers.Response with the payload left undecoded.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
}

// get fetches path and decodes the envelope's data into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: env.Status, Message: env.Error}
		if decodeErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*handlers.LivenessData, error) {
	var data handlers.LivenessData
	if err := c.get(ctx, "/health", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Ready calls GET /health/ready. A server that is not ready returns an
// *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*handlers.ReadinessData, error) {
	var data handlers.ReadinessData
	if err := c.get(ctx, "/health/ready", nil, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Probe asks the server whether it can open rawURL.
func (c *Client) Probe(ctx context.Context, rawURL string) (*access.ProbeResult, error) {
	var res access.ProbeResult
	if err := c.get(ctx, "/api/v1/probe", url.Values{"url": {rawURL}}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Sessions lists the sessions the server has open.
func (c *Client) Sessions(ctx context.Context) ([]handlers.SessionInfo, error) {
	var out []handlers.SessionInfo
	if err := c.get(ctx, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
