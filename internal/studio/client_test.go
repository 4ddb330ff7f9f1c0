package studio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/config"
	"github.com/windriver/studio-mcp/internal/observability"
)

func newTestClient(serverURL string) *Client {
	cfg := config.StudioConfig{
		URL:         serverURL,
		APIKey:      "test-key",
		Timeout:     5 * time.Second,
		Environment: "test",
	}
	return NewClient(cfg, observability.NewNoopLogger(), nil, nil)
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/pipelines", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "test", r.Header.Get("X-Studio-Env"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	data, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"p1"}]`, string(data))
}

func TestClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "main", body["branch"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"r1"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	data, err := client.Post(context.Background(), "runs.start", "/api/v1/pipelines/p1/runs",
		map[string]interface{}{"branch": "main"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1"}`, string(data))
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"pipeline not found"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Get(context.Background(), "pipelines.get", "/api/v1/pipelines/missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "pipelines.get", apiErr.Operation)
	assert.Contains(t, apiErr.Body, "pipeline not found")
}

func TestClient_NoURLConfigured(t *testing.T) {
	client := NewClient(config.StudioConfig{}, observability.NewNoopLogger(), nil, nil)

	_, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API URL configured")
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	// Trip the breaker
	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
		require.Error(t, err)
	}

	// Next call short-circuits without hitting the server
	_, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestClient_BreakerResetsOnSuccess(t *testing.T) {
	failing := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	// Two failures stay below the trip threshold
	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
		require.Error(t, err)
	}

	failing = false
	_, err := client.Get(context.Background(), "pipelines.list", "/api/v1/pipelines")
	require.NoError(t, err)

	status := client.Status()
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, "", status["last_error"])
}

func TestClient_Status(t *testing.T) {
	client := newTestClient("https://studio.example.com")

	status := client.Status()
	assert.Equal(t, true, status["connected"])
	assert.Equal(t, "https://studio.example.com", status["base_url"])
	assert.Equal(t, "test", status["environment"])
}
