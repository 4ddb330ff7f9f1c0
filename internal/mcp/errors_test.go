package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/studio"
	"github.com/windriver/studio-mcp/internal/validation"
)

func TestToMCPError_Internal(t *testing.T) {
	mcpErr := toMCPError(errors.New("something broke"))
	assert.Equal(t, CodeInternalError, mcpErr.Code)
	assert.Equal(t, "something broke", mcpErr.Message)
}

func TestToMCPError_CacheCapacity(t *testing.T) {
	wrapped := fmt.Errorf("put failed: %w", cache.ErrCapacityExceeded)
	mcpErr := toMCPError(wrapped)
	assert.Equal(t, CodeCacheOverloaded, mcpErr.Code)

	mcpErr = toMCPError(cache.ErrValueTooLarge)
	assert.Equal(t, CodeCacheOverloaded, mcpErr.Code)
}

func TestToMCPError_Timeout(t *testing.T) {
	mcpErr := toMCPError(fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, mcpErr.Code)
}

func TestToMCPError_StudioAPIError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantCode   int
	}{
		{"not found", 404, CodeNotFound},
		{"unauthorized", 401, CodeAuthError},
		{"forbidden", 403, CodeAuthError},
		{"server error", 500, CodeUpstreamError},
		{"bad gateway", 502, CodeUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := &studio.APIError{
				StatusCode: tt.statusCode,
				Operation:  "pipelines.list",
				Body:       "upstream says no",
			}
			mcpErr := toMCPError(fmt.Errorf("call: %w", apiErr))
			assert.Equal(t, tt.wantCode, mcpErr.Code)

			data, ok := mcpErr.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.statusCode, data["status"])
			assert.Equal(t, "pipelines.list", data["operation"])
		})
	}
}

func TestToMCPError_ValidationError(t *testing.T) {
	valErr := &validation.ValidationError{
		Field:   "protocolVersion",
		Message: "unsupported version",
		Code:    "UNSUPPORTED_PROTOCOL_VERSION",
	}
	mcpErr := toMCPError(valErr)
	assert.Equal(t, CodeInvalidParams, mcpErr.Code)

	data, ok := mcpErr.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "protocolVersion", data["field"])
}
