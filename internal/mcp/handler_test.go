package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/tools"
)

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	opts := cache.DefaultOptions()
	opts.Logger = observability.NewNoopLogger()
	opts.SweepInterval = 0
	store, err := cache.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	return NewHandler(
		tools.NewRegistry(),
		newTestStore(t),
		nil,
		auth.NewKeyAuthenticator(""),
		nil,
		nil,
		observability.NewNoopLogger(),
	)
}

func TestHandleInitialize_ValidProtocolVersions(t *testing.T) {
	handler := newTestHandler(t)
	sessionID := "test-session-123"

	validVersions := []string{
		"2024-11-05",
		"2025-03-26",
		"2025-06-18",
	}

	for _, version := range validVersions {
		t.Run("Protocol_"+version, func(t *testing.T) {
			params := map[string]interface{}{
				"protocolVersion": version,
				"clientInfo": map[string]interface{}{
					"name":    "test-client",
					"version": "1.0.0",
				},
			}

			paramsJSON, err := json.Marshal(params)
			require.NoError(t, err, "Failed to marshal params")

			msg := &MCPMessage{
				JSONRPC: "2.0",
				ID:      1,
				Method:  "initialize",
				Params:  paramsJSON,
			}

			response, err := handler.handleInitialize(sessionID, msg)

			assert.NoError(t, err, "Initialize should succeed for version %s", version)
			assert.NotNil(t, response, "Response should not be nil")
			assert.Equal(t, "2.0", response.JSONRPC)
			assert.Equal(t, 1, response.ID)

			result, ok := response.Result.(map[string]interface{})
			require.True(t, ok, "Result should be a map")
			assert.Equal(t, version, result["protocolVersion"])

			serverInfo, ok := result["serverInfo"].(map[string]interface{})
			require.True(t, ok, "Server info should be present")
			assert.Equal(t, "studio-mcp", serverInfo["name"])

			capabilities, ok := result["capabilities"].(map[string]interface{})
			require.True(t, ok, "Capabilities should be present")
			assert.Contains(t, capabilities, "tools")
			assert.Contains(t, capabilities, "resources")
		})
	}
}

func TestHandleInitialize_InvalidProtocolVersion(t *testing.T) {
	handler := newTestHandler(t)

	params := map[string]interface{}{
		"protocolVersion": "1999-01-01",
		"clientInfo": map[string]interface{}{
			"name":    "test-client",
			"version": "1.0.0",
		},
	}

	paramsJSON, _ := json.Marshal(params)
	msg := &MCPMessage{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "initialize",
		Params:  paramsJSON,
	}

	_, err := handler.handleInitialize("test-session-456", msg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version '1999-01-01'")
	assert.Contains(t, err.Error(), "supported:")
}

func TestHandleInitialize_MalformedJSON(t *testing.T) {
	handler := newTestHandler(t)

	msg := &MCPMessage{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "initialize",
		Params:  json.RawMessage(`{"invalid json`),
	}

	_, err := handler.handleInitialize("test-session-789", msg)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid initialize params")
}

func TestHandleInitialize_SessionUpdate(t *testing.T) {
	handler := newTestHandler(t)
	sessionID := "test-session-update"

	handler.sessions[sessionID] = &Session{
		ID:          sessionID,
		Initialized: false,
	}

	params := map[string]interface{}{
		"protocolVersion": "2025-06-18",
		"clientInfo": map[string]interface{}{
			"name":    "test-client",
			"version": "1.0.0",
		},
	}
	paramsJSON, _ := json.Marshal(params)
	msg := &MCPMessage{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "initialize",
		Params:  paramsJSON,
	}

	response, err := handler.handleInitialize(sessionID, msg)

	assert.NoError(t, err)
	assert.NotNil(t, response)

	session := handler.sessions[sessionID]
	assert.True(t, session.Initialized, "Session should be marked as initialized")
	assert.Equal(t, "test-client", session.ClientName)
	assert.Equal(t, "2025-06-18", session.ProtocolVersion)
}

func TestHandleToolCall_UsesSessionPrincipal(t *testing.T) {
	registry := tools.NewRegistry()

	var capturedOwner cache.Owner
	registry.RegisterTool(tools.ToolDefinition{
		Name:        "owner_probe",
		Description: "records the owner it runs under",
		InputSchema: map[string]interface{}{"type": "object"},
		Handler: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			capturedOwner = auth.OwnerFromContext(ctx)
			return json.RawMessage(`{}`), nil
		},
	})

	handler := NewHandler(
		registry,
		newTestStore(t),
		nil,
		auth.NewKeyAuthenticator(""),
		nil,
		nil,
		observability.NewNoopLogger(),
	)

	sessionID := "test-session-owner"
	handler.sessions[sessionID] = &Session{
		ID: sessionID,
		Principal: auth.Principal{
			UserID:      "alice",
			OrgID:       "acme",
			Environment: "prod",
		},
	}

	params, _ := json.Marshal(map[string]interface{}{
		"name":      "owner_probe",
		"arguments": map[string]interface{}{},
	})
	msg := &MCPMessage{JSONRPC: "2.0", ID: 7, Method: "tools/call", Params: params}

	response, err := handler.handleToolCall(sessionID, msg)
	require.NoError(t, err)
	require.NotNil(t, response)
	assert.Equal(t, "user:alice:org:acme:env:prod", capturedOwner.Prefix())
}

func TestHandleToolCall_UnknownTool(t *testing.T) {
	handler := newTestHandler(t)

	params, _ := json.Marshal(map[string]interface{}{
		"name": "no_such_tool",
	})
	msg := &MCPMessage{JSONRPC: "2.0", ID: 8, Method: "tools/call", Params: params}

	_, err := handler.handleToolCall("session", msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tool not found")
}

func TestHandleResourceRead_CacheStats(t *testing.T) {
	handler := newTestHandler(t)

	params, _ := json.Marshal(map[string]interface{}{
		"uri": "studio://cache/stats",
	})
	msg := &MCPMessage{JSONRPC: "2.0", ID: 9, Method: "resources/read", Params: params}

	response, err := handler.handleResourceRead("session", msg)
	require.NoError(t, err)

	result, ok := response.Result.(map[string]interface{})
	require.True(t, ok)
	contents, ok := result["contents"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, contents, 1)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(contents[0]["text"].(string)), &stats))
	assert.Contains(t, stats, "hit_rate")
	assert.Contains(t, stats, "memory_bytes")
}

func TestHandleResourceRead_NotFound(t *testing.T) {
	handler := newTestHandler(t)

	params, _ := json.Marshal(map[string]interface{}{
		"uri": "studio://does/not/exist",
	})
	msg := &MCPMessage{JSONRPC: "2.0", ID: 10, Method: "resources/read", Params: params}

	_, err := handler.handleResourceRead("session", msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "resource not found")
}

func TestHandleResourcesList(t *testing.T) {
	handler := newTestHandler(t)

	msg := &MCPMessage{JSONRPC: "2.0", ID: 11, Method: "resources/list"}
	response, err := handler.handleResourcesList("session", msg)
	require.NoError(t, err)

	result, ok := response.Result.(map[string]interface{})
	require.True(t, ok)
	resources, ok := result["resources"].([]map[string]interface{})
	require.True(t, ok)

	uris := make([]string, 0, len(resources))
	for _, res := range resources {
		uris = append(uris, res["uri"].(string))
	}
	assert.Contains(t, uris, "studio://cache/stats")
	assert.Contains(t, uris, "studio://connection/status")
	assert.Contains(t, uris, "studio://platform/info")
}

func TestHandleMessage_MethodNotFound(t *testing.T) {
	handler := newTestHandler(t)

	msg := &MCPMessage{JSONRPC: "2.0", ID: 12, Method: "nonexistent/method"}
	_, err := handler.handleMessage("session", msg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestHandlePing(t *testing.T) {
	handler := newTestHandler(t)

	msg := &MCPMessage{JSONRPC: "2.0", ID: 13, Method: "ping"}
	response, err := handler.handlePing(msg)
	require.NoError(t, err)
	assert.Equal(t, 13, response.ID)
	assert.NotNil(t, response.Result)
}

func TestFormatToolContent(t *testing.T) {
	raw := formatToolContent(json.RawMessage(`{"key":"value"}`))
	require.Len(t, raw, 1)
	assert.Equal(t, `{"key":"value"}`, raw[0]["text"])

	structured := formatToolContent(map[string]interface{}{"a": 1})
	require.Len(t, structured, 1)
	assert.JSONEq(t, `{"a":1}`, structured[0]["text"].(string))
}
