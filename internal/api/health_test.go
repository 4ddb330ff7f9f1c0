package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/mcp"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/tools"
)

func setupTestRouter(healthChecker *HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	healthChecker.RegisterRoutes(router)
	return router
}

func newHealthTestStore(t *testing.T) cache.Store {
	t.Helper()
	opts := cache.DefaultOptions()
	opts.Logger = observability.NewNoopLogger()
	opts.SweepInterval = 0
	store, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newHealthTestMCPHandler(registry *tools.Registry, store cache.Store) *mcp.Handler {
	return mcp.NewHandler(
		registry,
		store,
		nil,
		auth.NewKeyAuthenticator(""),
		nil,
		nil,
		observability.NewNoopLogger(),
	)
}

func TestNewHealthChecker(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil, // no studio status
		nil, // no mcp handler
		logger,
		"1.0.0",
	)

	assert.NotNil(t, healthChecker)
	assert.Equal(t, "1.0.0", healthChecker.version)
	assert.Equal(t, 5*time.Second, healthChecker.cacheTTL)
	assert.NotNil(t, healthChecker.startTime)
}

func TestHealthChecker_Liveness(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	healthChecker := NewHealthChecker(
		tools.NewRegistry(),
		newHealthTestStore(t),
		nil,
		nil,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response LivenessResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, HealthStatusHealthy, response.Status)
	assert.True(t, response.Alive)
	assert.NotZero(t, response.Timestamp)
}

func TestHealthChecker_Readiness_AllHealthy(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	mcpHandler := newHealthTestMCPHandler(registry, store)

	studioStatus := func() map[string]interface{} {
		return map[string]interface{}{"connected": true}
	}

	healthChecker := NewHealthChecker(
		registry,
		store,
		studioStatus,
		mcpHandler,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, HealthStatusHealthy, response.Status)
	assert.Equal(t, "1.0.0", response.Version)
	assert.NotZero(t, response.Uptime)
	assert.NotZero(t, response.Timestamp)

	require.Contains(t, response.Components, "tool_registry")
	assert.Equal(t, HealthStatusHealthy, response.Components["tool_registry"].Status)

	require.Contains(t, response.Components, "cache")
	assert.Equal(t, HealthStatusHealthy, response.Components["cache"].Status)

	require.Contains(t, response.Components, "studio")
	assert.Equal(t, HealthStatusHealthy, response.Components["studio"].Status)

	require.Contains(t, response.Components, "mcp_handler")
	assert.Equal(t, HealthStatusHealthy, response.Components["mcp_handler"].Status)
}

func TestHealthChecker_Readiness_StudioDown_Degrades(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	mcpHandler := newHealthTestMCPHandler(registry, store)

	studioStatus := func() map[string]interface{} {
		return map[string]interface{}{"connected": false, "last_error": "connection refused"}
	}

	healthChecker := NewHealthChecker(
		registry,
		store,
		studioStatus,
		mcpHandler,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Degraded still serves traffic: cached reads keep working
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, HealthStatusDegraded, response.Status)
	require.Contains(t, response.Components, "studio")
	assert.Equal(t, HealthStatusDegraded, response.Components["studio"].Status)
}

func TestHealthChecker_Readiness_NoTools(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	mcpHandler := newHealthTestMCPHandler(registry, store)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		mcpHandler,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Still OK with no tools (degraded)
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, HealthStatusDegraded, response.Status)

	require.Contains(t, response.Components, "tool_registry")
	assert.Equal(t, HealthStatusDegraded, response.Components["tool_registry"].Status)
	assert.Contains(t, response.Components["tool_registry"].Message, "No tools registered")
}

func TestHealthChecker_Readiness_Caching(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		nil,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req1, _ := http.NewRequest("GET", "/health/ready", nil)
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req1)

	var response1 HealthResponse
	err := json.Unmarshal(w1.Body.Bytes(), &response1)
	require.NoError(t, err)

	// Second request within cache TTL uses the cached response
	time.Sleep(100 * time.Millisecond)
	req2, _ := http.NewRequest("GET", "/health/ready", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)

	var response2 HealthResponse
	err = json.Unmarshal(w2.Body.Bytes(), &response2)
	require.NoError(t, err)

	assert.Equal(t, response1.Timestamp, response2.Timestamp)
}

func TestHealthChecker_CheckToolRegistry(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	tests := []struct {
		name          string
		registry      *tools.Registry
		setupRegistry func(*tools.Registry)
		wantStatus    HealthStatus
		wantMessage   string
	}{
		{
			name:        "nil registry",
			registry:    nil,
			wantStatus:  HealthStatusUnhealthy,
			wantMessage: "not initialized",
		},
		{
			name:        "empty registry",
			registry:    tools.NewRegistry(),
			wantStatus:  HealthStatusDegraded,
			wantMessage: "No tools registered",
		},
		{
			name:     "registry with tools",
			registry: tools.NewRegistry(),
			setupRegistry: func(r *tools.Registry) {
				provider := &mockToolProvider{
					tools: []tools.ToolDefinition{
						{Name: "tool1", Description: "Tool 1"},
						{Name: "tool2", Description: "Tool 2"},
					},
				}
				r.Register(provider)
			},
			wantStatus:  HealthStatusHealthy,
			wantMessage: "operational",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setupRegistry != nil && tt.registry != nil {
				tt.setupRegistry(tt.registry)
			}

			healthChecker := &HealthChecker{
				toolRegistry: tt.registry,
				logger:       logger,
			}

			result := healthChecker.checkToolRegistry()
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Contains(t, result.Message, tt.wantMessage)

			if tt.wantStatus == HealthStatusHealthy && tt.registry != nil {
				assert.Contains(t, result.Details, "tool_count")
			}
		})
	}
}

func TestHealthChecker_CheckCache(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	t.Run("nil cache", func(t *testing.T) {
		healthChecker := &HealthChecker{logger: logger}
		result := healthChecker.checkCache()
		assert.Equal(t, HealthStatusUnhealthy, result.Status)
		assert.Contains(t, result.Message, "not initialized")
	})

	t.Run("working cache", func(t *testing.T) {
		healthChecker := &HealthChecker{
			store:  newHealthTestStore(t),
			logger: logger,
		}
		result := healthChecker.checkCache()
		assert.Equal(t, HealthStatusHealthy, result.Status)
		assert.Contains(t, result.Message, "operational")
		assert.Contains(t, result.Details, "hit_rate")
		assert.Contains(t, result.Details, "memory_bytes")
	})
}

func TestHealthChecker_CheckStudio(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	t.Run("standalone", func(t *testing.T) {
		healthChecker := &HealthChecker{logger: logger}
		result := healthChecker.checkStudio()
		assert.Equal(t, HealthStatusDegraded, result.Status)
		assert.Contains(t, result.Message, "standalone")
	})

	t.Run("connected", func(t *testing.T) {
		healthChecker := &HealthChecker{
			logger: logger,
			studioStatus: func() map[string]interface{} {
				return map[string]interface{}{"connected": true}
			},
		}
		result := healthChecker.checkStudio()
		assert.Equal(t, HealthStatusHealthy, result.Status)
	})

	t.Run("disconnected", func(t *testing.T) {
		healthChecker := &HealthChecker{
			logger: logger,
			studioStatus: func() map[string]interface{} {
				return map[string]interface{}{"connected": false}
			},
		}
		result := healthChecker.checkStudio()
		assert.Equal(t, HealthStatusDegraded, result.Status)
	})
}

func TestHealthChecker_CheckMCPHandler(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	healthChecker := &HealthChecker{
		mcpHandler: nil,
		logger:     logger,
	}

	result := healthChecker.checkMCPHandler()
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "not initialized")
}

func TestHealthChecker_RegisterRoutes(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	mcpHandler := newHealthTestMCPHandler(registry, store)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		mcpHandler,
		logger,
		"1.0.0",
	)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	healthChecker.RegisterRoutes(router)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{
			name:       "liveness endpoint exists",
			path:       "/health/live",
			wantStatus: http.StatusOK,
		},
		{
			name:       "readiness endpoint exists",
			path:       "/health/ready",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHealthChecker_Startup_InProgress(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	// No tools registered yet - startup should be in progress
	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		nil,
		logger,
		"1.0.0",
	)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/startup", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response StartupResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, StartupStateInProgress, response.State)
	assert.NotZero(t, response.Timestamp)
	assert.Contains(t, response.Components, "tool_loading")
	assert.Equal(t, HealthStatusUnhealthy, response.Components["tool_loading"].Status)
}

func TestHealthChecker_Startup_Complete(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		nil,
		logger,
		"1.0.0",
	)

	healthChecker.SetConfig(map[string]interface{}{
		"server": map[string]interface{}{"port": 8082},
	})
	healthChecker.SetAuthenticator(struct{}{})

	startupMetrics := map[string]interface{}{
		"total_tools": 1,
	}
	healthChecker.MarkStartupComplete(startupMetrics)

	router := setupTestRouter(healthChecker)

	req, _ := http.NewRequest("GET", "/health/startup", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response StartupResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, StartupStateComplete, response.State)
	assert.NotZero(t, response.Timestamp)
	assert.Greater(t, response.StartupDuration, 0.0)
	assert.NotNil(t, response.Metrics)
	// JSON unmarshaling converts numbers to float64
	assert.Equal(t, float64(1), response.Metrics["total_tools"])
}

func TestHealthChecker_Startup_AlwaysSucceedsAfterComplete(t *testing.T) {
	logger := observability.NewStandardLogger("test")
	registry := tools.NewRegistry()
	store := newHealthTestStore(t)

	provider := &mockToolProvider{
		tools: []tools.ToolDefinition{
			{Name: "test_tool", Description: "Test tool"},
		},
	}
	registry.Register(provider)

	healthChecker := NewHealthChecker(
		registry,
		store,
		nil,
		nil,
		logger,
		"1.0.0",
	)

	healthChecker.SetConfig(map[string]interface{}{})
	healthChecker.SetAuthenticator(struct{}{})
	healthChecker.MarkStartupComplete(map[string]interface{}{
		"tools": 1,
	})

	router := setupTestRouter(healthChecker)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("GET", "/health/startup", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "Request %d should succeed", i+1)

		var response StartupResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		require.NoError(t, err)

		assert.Equal(t, StartupStateComplete, response.State)
	}
}

func TestHealthChecker_CheckAuthenticationSetup(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	tests := []struct {
		name          string
		authenticator interface{}
		wantStatus    HealthStatus
		wantMessage   string
	}{
		{
			name:          "nil authenticator",
			authenticator: nil,
			wantStatus:    HealthStatusUnhealthy,
			wantMessage:   "not initialized",
		},
		{
			name:          "authenticator configured",
			authenticator: struct{}{},
			wantStatus:    HealthStatusHealthy,
			wantMessage:   "configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthChecker := &HealthChecker{
				authenticator: tt.authenticator,
				logger:        logger,
			}

			result := healthChecker.checkAuthenticationSetup()
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Contains(t, result.Message, tt.wantMessage)
		})
	}
}

func TestHealthChecker_CheckConfigurationValidation(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	tests := []struct {
		name        string
		config      interface{}
		wantStatus  HealthStatus
		wantMessage string
	}{
		{
			name:        "nil config",
			config:      nil,
			wantStatus:  HealthStatusUnhealthy,
			wantMessage: "not loaded",
		},
		{
			name: "config validated",
			config: map[string]interface{}{
				"server": map[string]interface{}{"port": 8082},
			},
			wantStatus:  HealthStatusHealthy,
			wantMessage: "validated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthChecker := &HealthChecker{
				config: tt.config,
				logger: logger,
			}

			result := healthChecker.checkConfigurationValidation()
			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Contains(t, result.Message, tt.wantMessage)
		})
	}
}

func TestHealthChecker_MarkStartupComplete(t *testing.T) {
	logger := observability.NewStandardLogger("test")

	healthChecker := NewHealthChecker(
		tools.NewRegistry(),
		newHealthTestStore(t),
		nil,
		nil,
		logger,
		"1.0.0",
	)

	assert.Equal(t, StartupStateInProgress, healthChecker.startupState)

	startupMetrics := map[string]interface{}{
		"total_tools": 8,
	}
	healthChecker.MarkStartupComplete(startupMetrics)

	assert.Equal(t, StartupStateComplete, healthChecker.startupState)
	assert.NotZero(t, healthChecker.startupComplete)
	assert.Equal(t, startupMetrics, healthChecker.startupMetrics)
}

// Mock tool provider for testing
type mockToolProvider struct {
	tools []tools.ToolDefinition
}

func (m *mockToolProvider) GetDefinitions() []tools.ToolDefinition {
	return m.tools
}
