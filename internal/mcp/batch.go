package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/tools"
)

// BatchConfig configures batch execution behavior
type BatchConfig struct {
	MaxBatchSize    int           // Maximum number of tool calls in one batch
	ContinueOnError bool          // Keep executing after a failure
	Timeout         time.Duration // Maximum time for the whole batch
	MaxConcurrency  int           // Concurrent executions when parallel
}

// DefaultBatchConfig returns the default batch configuration
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		MaxBatchSize:    10,
		ContinueOnError: true,
		Timeout:         5 * time.Minute,
		MaxConcurrency:  5,
	}
}

// BatchToolCall represents a single tool call in a batch
type BatchToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// BatchRequest represents a batch of tool calls
type BatchRequest struct {
	Tools    []BatchToolCall `json:"tools"`
	Parallel bool            `json:"parallel,omitempty"`
}

// BatchToolResult represents the result of a single tool execution
type BatchToolResult struct {
	ID       string        `json:"id,omitempty"`
	Name     string        `json:"name"`
	Status   string        `json:"status"` // "success" or "error"
	Result   interface{}   `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ms"`
	Index    int           `json:"index"`
}

// BatchResponse represents the response for a batch execution
type BatchResponse struct {
	Results       []BatchToolResult `json:"results"`
	TotalDuration time.Duration     `json:"total_duration"`
	SuccessCount  int               `json:"success_count"`
	ErrorCount    int               `json:"error_count"`
	Parallel      bool              `json:"parallel"`
}

// BatchExecutor executes batches of tool calls. Useful for warming several
// cache entries in one round trip.
type BatchExecutor struct {
	registry *tools.Registry
	config   *BatchConfig
	logger   observability.Logger
}

// NewBatchExecutor creates a new batch executor
func NewBatchExecutor(registry *tools.Registry, config *BatchConfig, logger observability.Logger) *BatchExecutor {
	if config == nil {
		config = DefaultBatchConfig()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &BatchExecutor{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// Execute runs a batch of tool calls. The caller's context carries the
// session principal, so every call in the batch is scoped to one owner.
func (b *BatchExecutor) Execute(ctx context.Context, request *BatchRequest) (*BatchResponse, error) {
	if err := b.validate(request); err != nil {
		return nil, err
	}

	batchCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	start := time.Now()

	var results []BatchToolResult
	if request.Parallel {
		results = b.executeParallel(batchCtx, request.Tools)
	} else {
		results = b.executeSequential(batchCtx, request.Tools)
	}

	successCount := 0
	for _, result := range results {
		if result.Status == "success" {
			successCount++
		}
	}

	response := &BatchResponse{
		Results:       results,
		TotalDuration: time.Since(start),
		SuccessCount:  successCount,
		ErrorCount:    len(results) - successCount,
		Parallel:      request.Parallel,
	}

	b.logger.Info("Batch execution completed", map[string]interface{}{
		"total_tools":   len(request.Tools),
		"success_count": successCount,
		"error_count":   response.ErrorCount,
		"duration_ms":   response.TotalDuration.Milliseconds(),
		"parallel":      request.Parallel,
	})

	return response, nil
}

func (b *BatchExecutor) validate(request *BatchRequest) error {
	if request == nil || len(request.Tools) == 0 {
		return fmt.Errorf("batch is empty: at least one tool call is required")
	}
	if len(request.Tools) > b.config.MaxBatchSize {
		return fmt.Errorf("batch size %d exceeds maximum %d", len(request.Tools), b.config.MaxBatchSize)
	}
	for i, call := range request.Tools {
		if call.Name == "" {
			return fmt.Errorf("tool at index %d has empty name", i)
		}
	}
	return nil
}

func (b *BatchExecutor) executeParallel(ctx context.Context, calls []BatchToolCall) []BatchToolResult {
	results := make([]BatchToolResult, len(calls))
	sem := make(chan struct{}, b.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(index int, call BatchToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[index] = BatchToolResult{
					ID:     call.ID,
					Name:   call.Name,
					Status: "error",
					Error:  "batch execution timeout or cancelled",
					Index:  index,
				}
				return
			}

			results[index] = b.executeOne(ctx, call, index)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (b *BatchExecutor) executeSequential(ctx context.Context, calls []BatchToolCall) []BatchToolResult {
	results := make([]BatchToolResult, 0, len(calls))

	for i, call := range calls {
		if ctx.Err() != nil {
			results = append(results, BatchToolResult{
				ID:     call.ID,
				Name:   call.Name,
				Status: "error",
				Error:  "batch execution timeout or cancelled",
				Index:  i,
			})
			if !b.config.ContinueOnError {
				break
			}
			continue
		}

		result := b.executeOne(ctx, call, i)
		results = append(results, result)

		if !b.config.ContinueOnError && result.Status == "error" {
			b.logger.Warn("Stopping batch execution due to error", map[string]interface{}{
				"tool":  call.Name,
				"error": result.Error,
				"index": i,
			})
			break
		}
	}

	return results
}

func (b *BatchExecutor) executeOne(ctx context.Context, call BatchToolCall, index int) BatchToolResult {
	start := time.Now()

	result := BatchToolResult{
		ID:    call.ID,
		Name:  call.Name,
		Index: index,
	}

	toolResult, err := b.registry.Execute(ctx, call.Name, call.Arguments)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = "error"
		result.Error = err.Error()
	} else {
		result.Status = "success"
		result.Result = toolResult
	}

	return result
}

// handleToolsBatch handles tools/batch requests
func (h *Handler) handleToolsBatch(sessionID string, msg *MCPMessage) (*MCPMessage, error) {
	var request BatchRequest
	if err := json.Unmarshal(msg.Params, &request); err != nil {
		return nil, fmt.Errorf("invalid batch params: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if session := h.session(sessionID); session != nil {
		ctx = auth.WithPrincipal(ctx, session.Principal)
	}

	if msg.ID != nil {
		h.trackRequest(msg.ID, cancel)
		defer h.untrackRequest(msg.ID)
	}

	executor := NewBatchExecutor(h.tools, nil, h.logger)
	response, err := executor.Execute(ctx, &request)
	if err != nil {
		return nil, err
	}

	return &MCPMessage{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  response,
	}, nil
}
