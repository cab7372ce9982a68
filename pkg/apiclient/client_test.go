package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/api"
	"github.com/marmos91/kioaccess/pkg/provider/memory"
	"github.com/marmos91/kioaccess/pkg/registry"
)

func TestNewTrimsTrailingSlash(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", New("http://localhost:8080/").baseURL)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprint(w, `{"status":"unhealthy","error":"shutting down"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Ready(context.Background())
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unhealthy", apiErr.Status)
	assert.Equal(t, "shutting down", apiErr.Message)
	assert.Contains(t, err.Error(), "503")
}

func TestAPIErrorWithPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such route", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "no such route")
}

func TestAgainstServer(t *testing.T) {
	prov := memory.New(memory.Options{})
	prov.Put("clip", make([]byte, 2048))
	reg := registry.NewRegistry()
	require.NoError(t, reg.Register(prov, memory.Scheme))

	a := access.New(access.DefaultConfig(), reg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}()

	srv := httptest.NewServer(api.NewRouter(a))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kioaccess", health.Service)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory"}, ready.Schemes)

	res, err := c.Probe(ctx, "memory://clip")
	require.NoError(t, err)
	assert.True(t, res.CanOpen)
	assert.Equal(t, "memory", res.Provider)

	h, err := a.OpenURL(ctx, "memory://clip")
	require.NoError(t, err)
	defer h.Close(ctx)

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, h.ID(), sessions[0].ID)
	assert.Equal(t, int64(2048), sessions[0].Size)
}
