package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/middleware"
	"github.com/windriver/studio-mcp/internal/studio"
	"github.com/windriver/studio-mcp/internal/validation"
)

// JSON-RPC error codes. The -32000..-32099 range is reserved for
// server-defined errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeAuthError       = -32001
	CodeNotFound        = -32002
	CodeRateLimited     = -32003
	CodeTimeout         = -32004
	CodeUpstreamError   = -32005
	CodeCacheOverloaded = -32006
)

// rateLimitError carries the rate limit decision so the response can include
// retry metadata.
type rateLimitError struct {
	result  *middleware.RateLimitResult
	limiter *middleware.RateLimiter
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s): retry after %s", e.result.LimitType, e.result.RetryAfter)
}

// toMCPError maps an error from a handler to a JSON-RPC error object.
func toMCPError(err error) *MCPError {
	var rlErr *rateLimitError
	if errors.As(err, &rlErr) {
		var data interface{}
		if rlErr.limiter != nil {
			data = rlErr.limiter.CreateRateLimitError(rlErr.result)
		}
		return &MCPError{
			Code:    CodeRateLimited,
			Message: rlErr.Error(),
			Data:    data,
		}
	}

	var valErr *validation.ValidationError
	if errors.As(err, &valErr) {
		return &MCPError{
			Code:    CodeInvalidParams,
			Message: valErr.Error(),
			Data: map[string]interface{}{
				"field": valErr.Field,
				"code":  valErr.Code,
			},
		}
	}

	var apiErr *studio.APIError
	if errors.As(err, &apiErr) {
		code := CodeUpstreamError
		if apiErr.StatusCode == 404 {
			code = CodeNotFound
		}
		if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
			code = CodeAuthError
		}
		return &MCPError{
			Code:    code,
			Message: apiErr.Error(),
			Data: map[string]interface{}{
				"status":    apiErr.StatusCode,
				"operation": apiErr.Operation,
			},
		}
	}

	switch {
	case errors.Is(err, cache.ErrCapacityExceeded), errors.Is(err, cache.ErrValueTooLarge):
		return &MCPError{
			Code:    CodeCacheOverloaded,
			Message: err.Error(),
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    CodeTimeout,
			Message: err.Error(),
		}
	}

	return &MCPError{
		Code:    CodeInternalError,
		Message: err.Error(),
	}
}
