package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/metrics"
	"github.com/windriver/studio-mcp/internal/middleware"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/platform"
	"github.com/windriver/studio-mcp/internal/tools"
	"github.com/windriver/studio-mcp/internal/validation"
)

// MCPMessage represents a JSON-RPC message in the MCP protocol
type MCPMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Handler manages MCP protocol connections
type Handler struct {
	tools         *tools.Registry
	store         cache.Store
	studioStatus  func() map[string]interface{}
	authenticator auth.Authenticator
	validator     *validation.Validator
	rateLimiter   *middleware.RateLimiter
	metrics       *metrics.Metrics
	logger        observability.Logger

	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	// Request tracking for cancellation
	activeRequests map[interface{}]context.CancelFunc
	requestsMu     sync.RWMutex

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	activeConns  sync.WaitGroup
}

// Session represents an MCP session bound to one connection. The principal
// captured at connect time scopes every cache operation the session performs.
type Session struct {
	ID              string
	ConnectionID    string
	Initialized     bool
	Principal       auth.Principal
	ClientName      string
	ClientVersion   string
	ProtocolVersion string
	CreatedAt       time.Time
	LastActivity    time.Time
}

// NewHandler creates a new MCP handler. studioStatus, rateLimiter and
// metricsCollector may be nil; the corresponding features are skipped.
func NewHandler(
	toolRegistry *tools.Registry,
	store cache.Store,
	studioStatus func() map[string]interface{},
	authenticator auth.Authenticator,
	rateLimiter *middleware.RateLimiter,
	metricsCollector *metrics.Metrics,
	logger observability.Logger,
) *Handler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Handler{
		tools:          toolRegistry,
		store:          store,
		studioStatus:   studioStatus,
		authenticator:  authenticator,
		validator:      validation.NewValidator(nil, logger),
		rateLimiter:    rateLimiter,
		metrics:        metricsCollector,
		logger:         logger,
		sessions:       make(map[string]*Session),
		activeRequests: make(map[interface{}]context.CancelFunc),
		shutdownCh:     make(chan struct{}),
	}
}

// Shutdown closes all sessions and waits for connection handlers to drain.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		close(h.shutdownCh)
	})

	// Cancel any in-flight tool executions
	h.requestsMu.Lock()
	for id, cancel := range h.activeRequests {
		cancel()
		delete(h.activeRequests, id)
	}
	h.requestsMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// HandleConnection handles a WebSocket connection
func (h *Handler) HandleConnection(conn *websocket.Conn, r *http.Request) {
	principal, ok := h.authenticate(r)
	if !ok {
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	h.activeConns.Add(1)
	defer h.activeConns.Done()

	sessionID := uuid.New().String()
	session := &Session{
		ID:           sessionID,
		ConnectionID: uuid.New().String(),
		Principal:    principal,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}

	h.sessionsMu.Lock()
	h.sessions[sessionID] = session
	h.sessionsMu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordSessionStart()
		h.metrics.RecordConnectionStart()
	}

	defer func() {
		h.sessionsMu.Lock()
		delete(h.sessions, sessionID)
		h.sessionsMu.Unlock()
		if h.metrics != nil {
			h.metrics.RecordSessionEnd(time.Since(session.CreatedAt))
			h.metrics.RecordConnectionEnd()
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Unblock the read loop on shutdown
	go func() {
		select {
		case <-h.shutdownCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	pingDone := make(chan struct{})
	go h.pingLoop(ctx, conn, pingDone)
	defer func() { <-pingDone }()

	for {
		var msg MCPMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				h.logger.Error("WebSocket error", map[string]interface{}{
					"error":      err.Error(),
					"session_id": sessionID,
				})
			}
			return
		}

		if h.metrics != nil {
			h.metrics.RecordMessageReceived(msg.Method)
		}

		h.sessionsMu.Lock()
		if s, exists := h.sessions[sessionID]; exists {
			s.LastActivity = time.Now()
		}
		h.sessionsMu.Unlock()

		response, err := h.handleMessage(sessionID, &msg)
		if err != nil {
			response = &MCPMessage{
				JSONRPC: "2.0",
				ID:      msg.ID,
				Error:   toMCPError(err),
			}
		}

		if response != nil {
			if err := wsjson.Write(ctx, conn, response); err != nil {
				h.logger.Error("Failed to write response", map[string]interface{}{
					"error":      err.Error(),
					"session_id": sessionID,
				})
				return
			}
			if h.metrics != nil {
				h.metrics.RecordMessageSent(msg.Method)
			}
		}
	}
}

// pingLoop keeps the connection alive until ctx is cancelled. done is closed
// when the loop exits.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) authenticate(r *http.Request) (auth.Principal, bool) {
	if h.authenticator == nil {
		return auth.PrincipalFromHeaders(r), true
	}
	return h.authenticator.AuthenticateRequest(r)
}

// handleMessage processes an MCP message
func (h *Handler) handleMessage(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	if msg.JSONRPC != "2.0" {
		return nil, fmt.Errorf("invalid jsonrpc version: %q", msg.JSONRPC)
	}
	if msg.Method != "" {
		if err := h.validator.ValidateMethodName(msg.Method); err != nil {
			return nil, err
		}
	}

	switch msg.Method {
	case "initialize":
		return h.handleInitialize(sessionID, msg)
	case "initialized", "notifications/initialized":
		return h.handleInitialized(sessionID, msg)
	case "ping":
		return h.handlePing(msg)
	case "shutdown":
		return h.handleShutdown(sessionID, msg)
	case "tools/list":
		return h.handleToolsList(sessionID, msg)
	case "tools/call":
		return h.handleToolCall(sessionID, msg)
	case "tools/batch":
		return h.handleToolsBatch(sessionID, msg)
	case "resources/list":
		return h.handleResourcesList(sessionID, msg)
	case "resources/read":
		return h.handleResourceRead(sessionID, msg)
	case "prompts/list":
		return h.handlePromptsList(sessionID, msg)
	case "logging/setLevel":
		return h.handleLoggingSetLevel(sessionID, msg)
	case "$/cancelRequest":
		return h.handleCancelRequest(sessionID, msg)
	default:
		return nil, fmt.Errorf("method not found: %s", msg.Method)
	}
}

// handleInitialize handles the initialize request
func (h *Handler) handleInitialize(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		ProtocolVersion string `json:"protocolVersion"`
		ClientInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"clientInfo"`
	}

	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("Invalid initialize params: %w", err)
	}

	if err := h.validator.ValidateMCPProtocolVersion(params.ProtocolVersion); err != nil {
		return nil, err
	}

	h.sessionsMu.Lock()
	if session, exists := h.sessions[sessionID]; exists {
		session.Initialized = true
		session.ProtocolVersion = params.ProtocolVersion
		session.ClientName = params.ClientInfo.Name
		session.ClientVersion = params.ClientInfo.Version
	}
	h.sessionsMu.Unlock()

	h.logger.Info("Session initialized", map[string]interface{}{
		"session_id":       sessionID,
		"client":           params.ClientInfo.Name,
		"protocol_version": params.ProtocolVersion,
	})

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"protocolVersion": params.ProtocolVersion,
			"serverInfo": map[string]interface{}{
				"name":    "studio-mcp",
				"version": platform.Version,
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{
					"listChanged": false,
				},
				"resources": map[string]interface{}{
					"subscribe":   false,
					"listChanged": false,
				},
				"prompts": map[string]interface{}{},
				"logging": map[string]interface{}{},
			},
		},
	}, nil
}

// handleInitialized handles the initialized notification
func (h *Handler) handleInitialized(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	h.sessionsMu.Lock()
	if session, exists := h.sessions[sessionID]; exists {
		session.Initialized = true
	}
	h.sessionsMu.Unlock()

	// No response for notifications
	return nil, nil
}

// handlePing handles ping requests
func (h *Handler) handlePing(msg *MCPMessage) (*MCPMessage, error) {
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  map[string]interface{}{},
	}, nil
}

// handleShutdown handles shutdown requests
func (h *Handler) handleShutdown(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	h.sessionsMu.Lock()
	delete(h.sessions, sessionID)
	h.sessionsMu.Unlock()

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  map[string]interface{}{},
	}, nil
}

// handleToolsList handles tools/list requests
func (h *Handler) handleToolsList(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	definitions := h.tools.ListAll()

	toolList := make([]map[string]interface{}, 0, len(definitions))
	for _, tool := range definitions {
		toolList = append(toolList, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"tools": toolList,
		},
	}, nil
}

// handleToolCall handles tools/call requests
func (h *Handler) handleToolCall(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid tool call params: %w", err)
	}

	if err := h.validator.ValidateToolName(params.Name); err != nil {
		return nil, err
	}

	if def, ok := h.tools.Get(params.Name); ok && len(params.Arguments) > 0 {
		if err := h.validator.ValidateToolArguments(context.Background(), params.Name, params.Arguments, def.InputSchema); err != nil {
			return nil, err
		}
	}

	session := h.session(sessionID)

	if h.rateLimiter != nil {
		clientID := ""
		if session != nil {
			clientID = session.Principal.UserID
		}
		result := h.rateLimiter.CheckRateLimit(context.Background(), clientID, params.Name)
		if !result.Allowed {
			return nil, &rateLimitError{result: result, limiter: h.rateLimiter}
		}
	}

	// The tool executes under the session principal so the cache layer sees
	// the right owner.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if session != nil {
		ctx = auth.WithPrincipal(ctx, session.Principal)
	}

	if msg.ID != nil {
		h.trackRequest(msg.ID, cancel)
		defer h.untrackRequest(msg.ID)
	}

	var doneTimer func(error)
	if h.metrics != nil {
		doneTimer = h.metrics.StartToolExecutionTimer(params.Name)
	}

	result, err := h.tools.Execute(ctx, params.Name, params.Arguments)
	if doneTimer != nil {
		doneTimer(err)
	}
	if err != nil {
		return nil, fmt.Errorf("tool execution failed: %w", err)
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"content": formatToolContent(result),
		},
	}, nil
}

// formatToolContent renders a tool result as MCP content blocks.
func formatToolContent(result interface{}) []map[string]interface{} {
	switch v := result.(type) {
	case json.RawMessage:
		return []map[string]interface{}{
			{"type": "text", "text": string(v)},
		}
	case map[string]interface{}:
		if content, ok := v["content"].([]map[string]interface{}); ok {
			return content
		}
		if data, err := json.Marshal(v); err == nil {
			return []map[string]interface{}{
				{"type": "text", "text": string(data)},
			}
		}
	}
	return []map[string]interface{}{
		{"type": "text", "text": fmt.Sprintf("%v", result)},
	}
}

// handleResourcesList handles resources/list requests
func (h *Handler) handleResourcesList(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	resources := []map[string]interface{}{
		{
			"uri":         "studio://cache/stats",
			"name":        "Cache Statistics",
			"description": "Hit rate, memory usage, and per-tier entry counts",
			"mimeType":    "application/json",
		},
		{
			"uri":         "studio://connection/status",
			"name":        "Studio Connection Status",
			"description": "Status of the upstream Studio API connection",
			"mimeType":    "application/json",
		},
		{
			"uri":         "studio://platform/info",
			"name":        "Platform Information",
			"description": "Server build and runtime information",
			"mimeType":    "application/json",
		},
		{
			"uri":         "studio://tools/list",
			"name":        "Available Tools",
			"description": "List of available tools",
			"mimeType":    "application/json",
		},
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"resources": resources,
		},
	}, nil
}

// handleResourceRead handles resources/read requests
func (h *Handler) handleResourceRead(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		URI string `json:"uri"`
	}

	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid resource read params: %w", err)
	}

	var content interface{}

	switch params.URI {
	case "studio://cache/stats":
		if h.store != nil {
			content = h.store.Stats()
		} else {
			content = map[string]interface{}{"enabled": false}
		}

	case "studio://connection/status":
		if h.studioStatus != nil {
			content = h.studioStatus()
		} else {
			content = map[string]interface{}{
				"connected": false,
				"error":     "Studio API not configured",
			}
		}

	case "studio://platform/info":
		content = platform.GetInfo()

	case "studio://tools/list":
		definitions := h.tools.ListAll()
		toolNames := make([]string, 0, len(definitions))
		for _, tool := range definitions {
			toolNames = append(toolNames, tool.Name)
		}
		content = toolNames

	default:
		return nil, fmt.Errorf("resource not found: %s", params.URI)
	}

	contentJSON, _ := json.Marshal(content)

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"contents": []map[string]interface{}{
				{
					"uri":      params.URI,
					"mimeType": "application/json",
					"text":     string(contentJSON),
				},
			},
		},
	}, nil
}

// handlePromptsList handles prompts/list requests
func (h *Handler) handlePromptsList(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	// The Studio MCP server doesn't provide prompts
	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result: map[string]interface{}{
			"prompts": []interface{}{},
		},
	}, nil
}

// handleLoggingSetLevel handles logging/setLevel requests
func (h *Handler) handleLoggingSetLevel(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		Level string `json:"level"`
	}

	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid logging params: %w", err)
	}

	levelMap := map[string]observability.LogLevel{
		"debug":   observability.LogLevelDebug,
		"info":    observability.LogLevelInfo,
		"warning": observability.LogLevelWarn,
		"warn":    observability.LogLevelWarn,
		"error":   observability.LogLevelError,
	}

	newLevel, ok := levelMap[params.Level]
	if !ok {
		return nil, fmt.Errorf("invalid log level: %s", params.Level)
	}

	if stdLogger, ok := h.logger.(*observability.StandardLogger); ok {
		h.logger = stdLogger.WithLevel(newLevel)
		h.logger.Info("Log level changed", map[string]interface{}{
			"new_level": params.Level,
		})
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  map[string]interface{}{},
	}, nil
}

// handleCancelRequest handles $/cancelRequest requests
func (h *Handler) handleCancelRequest(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var params struct {
		ID interface{} `json:"id"`
	}

	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, fmt.Errorf("invalid cancel params: %w", err)
	}

	h.requestsMu.Lock()
	cancel, exists := h.activeRequests[params.ID]
	if exists {
		delete(h.activeRequests, params.ID)
	}
	h.requestsMu.Unlock()

	if exists {
		cancel()
		h.logger.Info("Request cancelled", map[string]interface{}{
			"request_id": params.ID,
			"session_id": sessionID,
		})
	} else {
		h.logger.Warn("Request not found for cancellation", map[string]interface{}{
			"request_id": params.ID,
			"session_id": sessionID,
		})
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  map[string]interface{}{},
	}, nil
}

// session returns the session for an ID, or nil.
func (h *Handler) session(sessionID string) *Session {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return h.sessions[sessionID]
}

// SessionCount reports the number of live sessions.
func (h *Handler) SessionCount() int {
	h.sessionsMu.RLock()
	defer h.sessionsMu.RUnlock()
	return len(h.sessions)
}

// trackRequest registers a request for potential cancellation
func (h *Handler) trackRequest(id interface{}, cancel context.CancelFunc) {
	h.requestsMu.Lock()
	h.activeRequests[id] = cancel
	h.requestsMu.Unlock()
}

// untrackRequest removes a request from tracking
func (h *Handler) untrackRequest(id interface{}) {
	h.requestsMu.Lock()
	delete(h.activeRequests, id)
	h.requestsMu.Unlock()
}
