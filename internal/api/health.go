package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/mcp"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/tools"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// StartupState represents the startup state of the application
type StartupState string

const (
	StartupStateNotStarted StartupState = "not_started"
	StartupStateInProgress StartupState = "in_progress"
	StartupStateComplete   StartupState = "complete"
	StartupStateFailed     StartupState = "failed"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     float64                    `json:"uptime_seconds"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// LivenessResponse represents a simple liveness check response
type LivenessResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Alive     bool         `json:"alive"`
}

// StartupResponse represents the startup probe response
type StartupResponse struct {
	State           StartupState               `json:"state"`
	Timestamp       time.Time                  `json:"timestamp"`
	StartupDuration float64                    `json:"startup_duration_seconds,omitempty"`
	Components      map[string]ComponentHealth `json:"components,omitempty"`
	Metrics         map[string]interface{}     `json:"metrics,omitempty"`
}

// HealthChecker manages health checks for the Studio MCP server
type HealthChecker struct {
	toolRegistry    *tools.Registry
	store           cache.Store
	studioStatus    func() map[string]interface{}
	mcpHandler      *mcp.Handler
	logger          observability.Logger
	version         string
	config          interface{}
	authenticator   interface{}
	startTime       time.Time
	mu              sync.RWMutex
	lastReadiness   *HealthResponse
	lastCheck       time.Time
	cacheTTL        time.Duration
	startupState    StartupState
	startupComplete time.Time
	startupMetrics  map[string]interface{}
}

// NewHealthChecker creates a new health checker. studioStatus may be nil for
// standalone operation without an upstream Studio API.
func NewHealthChecker(
	toolRegistry *tools.Registry,
	store cache.Store,
	studioStatus func() map[string]interface{},
	mcpHandler *mcp.Handler,
	logger observability.Logger,
	version string,
) *HealthChecker {
	return &HealthChecker{
		toolRegistry:   toolRegistry,
		store:          store,
		studioStatus:   studioStatus,
		mcpHandler:     mcpHandler,
		logger:         logger,
		version:        version,
		startTime:      time.Now(),
		cacheTTL:       5 * time.Second, // Cache readiness checks for 5 seconds
		startupState:   StartupStateInProgress,
		startupMetrics: make(map[string]interface{}),
	}
}

// SetConfig sets the configuration for validation
func (h *HealthChecker) SetConfig(config interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = config
}

// SetAuthenticator sets the authenticator for validation
func (h *HealthChecker) SetAuthenticator(auth interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authenticator = auth
}

// Liveness returns a simple liveness check (Kubernetes liveness probe)
// This should only fail if the application is completely dead
func (h *HealthChecker) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Alive:     true,
	}

	c.JSON(http.StatusOK, response)
}

// Readiness returns a detailed readiness check (Kubernetes readiness probe)
// This checks if the application is ready to serve traffic
func (h *HealthChecker) Readiness(c *gin.Context) {
	// Check cache first to avoid excessive health checks
	h.mu.RLock()
	if h.lastReadiness != nil && time.Since(h.lastCheck) < h.cacheTTL {
		cached := h.lastReadiness
		h.mu.RUnlock()
		c.JSON(httpStatusFor(cached.Status), cached)
		return
	}
	h.mu.RUnlock()

	response := h.checkReadiness()

	h.mu.Lock()
	h.lastReadiness = response
	h.lastCheck = time.Now()
	h.mu.Unlock()

	c.JSON(httpStatusFor(response.Status), response)
}

// httpStatusFor maps a health status to an HTTP status code. Degraded still
// serves traffic.
func httpStatusFor(status HealthStatus) int {
	if status == HealthStatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// checkReadiness performs the actual readiness health check
func (h *HealthChecker) checkReadiness() *HealthResponse {
	components := make(map[string]ComponentHealth)
	overallStatus := HealthStatusHealthy

	merge := func(name string, health ComponentHealth) {
		components[name] = health
		if health.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
		} else if health.Status == HealthStatusDegraded && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	merge("tool_registry", h.checkToolRegistry())
	merge("cache", h.checkCache())
	merge("mcp_handler", h.checkMCPHandler())

	// The upstream Studio API is optional. An outage degrades but never
	// fails readiness: cached reads keep working.
	studioHealth := h.checkStudio()
	components["studio"] = studioHealth
	if studioHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	return &HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Seconds(),
		Components: components,
	}
}

// checkToolRegistry checks the health of the tool registry
func (h *HealthChecker) checkToolRegistry() ComponentHealth {
	if h.toolRegistry == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Tool registry is not initialized",
		}
	}

	toolCount := h.toolRegistry.Count()

	if toolCount == 0 {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "No tools registered",
			Details: map[string]interface{}{
				"tool_count": toolCount,
			},
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Tool registry operational",
		Details: map[string]interface{}{
			"tool_count": toolCount,
		},
	}
}

// checkCache verifies the cache with a write-read-delete round trip.
func (h *HealthChecker) checkCache() ComponentHealth {
	if h.store == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Cache is not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	owner := cache.DefaultOwner()
	testKey := "health:check:" + time.Now().Format("20060102150405")

	if err := h.store.Put(ctx, owner, testKey, []byte("ok")); err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Cache write operation failed",
			Details: map[string]interface{}{
				"error": err.Error(),
			},
		}
	}

	if _, err := h.store.Get(ctx, owner, testKey); err != nil {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "Cache read operation failed",
			Details: map[string]interface{}{
				"error": err.Error(),
			},
		}
	}

	_ = h.store.Delete(ctx, owner, testKey)

	stats := h.store.Stats()
	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Cache operational",
		Details: map[string]interface{}{
			"hit_rate":     stats.HitRate,
			"memory_bytes": stats.MemoryBytes,
			"operations":   stats.TotalOperations,
		},
	}
}

// checkStudio reports the upstream Studio API connection state.
func (h *HealthChecker) checkStudio() ComponentHealth {
	if h.studioStatus == nil {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "Running in standalone mode (no Studio API)",
			Details: map[string]interface{}{
				"standalone": true,
			},
		}
	}

	status := h.studioStatus()
	connected, _ := status["connected"].(bool)
	if !connected {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "Studio API connectivity degraded",
			Details: status,
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Studio API connected",
		Details: status,
	}
}

// checkMCPHandler checks the health of the MCP handler
func (h *HealthChecker) checkMCPHandler() ComponentHealth {
	if h.mcpHandler == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "MCP handler is not initialized",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "MCP handler operational",
		Details: map[string]interface{}{
			"active_sessions": h.mcpHandler.SessionCount(),
		},
	}
}

// Startup returns the startup probe status (Kubernetes startup probe)
// This checks if the application has successfully completed startup
func (h *HealthChecker) Startup(c *gin.Context) {
	h.mu.RLock()
	state := h.startupState
	h.mu.RUnlock()

	// If startup is already complete, always return success
	if state == StartupStateComplete {
		h.mu.RLock()
		response := &StartupResponse{
			State:           StartupStateComplete,
			Timestamp:       time.Now(),
			StartupDuration: h.startupComplete.Sub(h.startTime).Seconds(),
			Metrics:         h.startupMetrics,
		}
		h.mu.RUnlock()

		c.JSON(http.StatusOK, response)
		return
	}

	response := h.checkStartup()

	status := http.StatusOK
	switch response.State {
	case StartupStateFailed, StartupStateInProgress:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, response)
}

// checkStartup performs the actual startup health check
func (h *HealthChecker) checkStartup() *StartupResponse {
	components := make(map[string]ComponentHealth)
	allHealthy := true

	check := func(name string, health ComponentHealth) {
		components[name] = health
		if health.Status != HealthStatusHealthy {
			allHealthy = false
		}
	}

	check("tool_loading", h.checkToolLoading())
	check("authentication", h.checkAuthenticationSetup())
	check("cache", h.checkCacheInitialization())
	check("configuration", h.checkConfigurationValidation())

	state := StartupStateInProgress
	if allHealthy {
		state = StartupStateComplete
	}

	return &StartupResponse{
		State:      state,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// checkToolLoading checks if tools have been successfully loaded
func (h *HealthChecker) checkToolLoading() ComponentHealth {
	if h.toolRegistry == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Tool registry not initialized",
		}
	}

	toolCount := h.toolRegistry.Count()
	if toolCount == 0 {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "No tools loaded",
			Details: map[string]interface{}{
				"tool_count": toolCount,
			},
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Tools successfully loaded",
		Details: map[string]interface{}{
			"tool_count": toolCount,
		},
	}
}

// checkAuthenticationSetup verifies authentication is properly configured
func (h *HealthChecker) checkAuthenticationSetup() ComponentHealth {
	h.mu.RLock()
	authn := h.authenticator
	h.mu.RUnlock()

	if authn == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Authenticator not initialized",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Authentication configured",
		Details: map[string]interface{}{
			"initialized": true,
		},
	}
}

// checkCacheInitialization verifies cache is initialized and operational
func (h *HealthChecker) checkCacheInitialization() ComponentHealth {
	if h.store == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Cache not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	owner := cache.DefaultOwner()
	testKey := "health:startup:" + time.Now().Format("20060102150405")

	if err := h.store.Put(ctx, owner, testKey, []byte("ok")); err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Cache initialization failed",
			Details: map[string]interface{}{
				"error": err.Error(),
			},
		}
	}

	_ = h.store.Delete(ctx, owner, testKey)

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Cache initialized and operational",
		Details: map[string]interface{}{
			"operational": true,
		},
	}
}

// checkConfigurationValidation validates required configuration
func (h *HealthChecker) checkConfigurationValidation() ComponentHealth {
	h.mu.RLock()
	cfg := h.config
	h.mu.RUnlock()

	if cfg == nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Message: "Configuration not loaded",
		}
	}

	// Configuration is validated during startup; reaching this point means
	// it parsed cleanly.
	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Message: "Configuration validated",
		Details: map[string]interface{}{
			"validated": true,
		},
	}
}

// MarkStartupComplete marks startup as complete and logs metrics
func (h *HealthChecker) MarkStartupComplete(metrics map[string]interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.startupState = StartupStateComplete
	h.startupComplete = time.Now()
	h.startupMetrics = metrics

	duration := h.startupComplete.Sub(h.startTime).Seconds()

	logFields := map[string]interface{}{
		"startup_duration_seconds": duration,
		"state":                    string(StartupStateComplete),
	}
	for k, v := range metrics {
		logFields[k] = v
	}

	h.logger.Info("Startup complete", logFields)
}

// RegisterRoutes registers health check routes with the Gin router
func (h *HealthChecker) RegisterRoutes(router *gin.Engine) {
	health := router.Group("/health")
	{
		// Liveness probe - only fails if the app is completely dead
		health.GET("/live", h.Liveness)

		// Readiness probe - returns 503 when not ready to serve traffic
		health.GET("/ready", h.Readiness)

		// Startup probe - reports when initialization has finished
		health.GET("/startup", h.Startup)
	}
}
