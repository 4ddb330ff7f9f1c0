package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/windriver/studio-mcp/internal/auth"
	"github.com/windriver/studio-mcp/internal/observability"
	"github.com/windriver/studio-mcp/internal/studio"
)

// StudioTools exposes the Studio pipeline surface as MCP tools. Read tools
// are cache-backed and accept bypass_cache; mutation tools invalidate the
// entries they made stale.
type StudioTools struct {
	provider   *studio.Provider
	connStatus func() map[string]interface{}
	logger     observability.Logger
}

// NewStudioTools creates the Studio tool provider. connStatus reports the
// upstream connection for studio_status and may be nil.
func NewStudioTools(provider *studio.Provider, connStatus func() map[string]interface{}, logger observability.Logger) *StudioTools {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &StudioTools{
		provider:   provider,
		connStatus: connStatus,
		logger:     logger,
	}
}

// bypassProperty is shared by every cached read tool.
func bypassProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": "Skip the cache and fetch fresh data (the result still refreshes the cache)",
	}
}

// GetDefinitions returns tool definitions
func (t *StudioTools) GetDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "studio_status",
			Description: "Report cache statistics and Studio connection status",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: t.handleStatus,
		},
		{
			Name:        "studio_pipeline_list",
			Description: "List all pipelines",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bypass_cache": bypassProperty(),
				},
			},
			Handler: t.handlePipelineList,
		},
		{
			Name:        "studio_pipeline_get",
			Description: "Get a pipeline definition",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pipeline_id": map[string]interface{}{
						"type":        "string",
						"description": "Pipeline identifier",
					},
					"bypass_cache": bypassProperty(),
				},
				"required": []interface{}{"pipeline_id"},
			},
			Handler: t.handlePipelineGet,
		},
		{
			Name:        "studio_pipeline_runs",
			Description: "List the runs of a pipeline",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pipeline_id": map[string]interface{}{
						"type":        "string",
						"description": "Pipeline identifier",
					},
					"bypass_cache": bypassProperty(),
				},
				"required": []interface{}{"pipeline_id"},
			},
			Handler: t.handlePipelineRuns,
		},
		{
			Name:        "studio_runs_list",
			Description: "List runs across all pipelines",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bypass_cache": bypassProperty(),
				},
			},
			Handler: t.handleRunsList,
		},
		{
			Name:        "studio_run_details",
			Description: "Get the details of a run",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run identifier",
					},
					"completed": map[string]interface{}{
						"type":        "boolean",
						"description": "Set when the run has reached a terminal state",
					},
					"bypass_cache": bypassProperty(),
				},
				"required": []interface{}{"run_id"},
			},
			Handler: t.handleRunDetails,
		},
		{
			Name:        "studio_tasks_list",
			Description: "List the task library",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bypass_cache": bypassProperty(),
				},
			},
			Handler: t.handleTasksList,
		},
		{
			Name:        "studio_groups_list",
			Description: "List resource groups",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"bypass_cache": bypassProperty(),
				},
			},
			Handler: t.handleGroupsList,
		},
		{
			Name:        "studio_resources_list",
			Description: "List the resources of a group",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"group_id": map[string]interface{}{
						"type":        "string",
						"description": "Resource group identifier",
					},
					"bypass_cache": bypassProperty(),
				},
				"required": []interface{}{"group_id"},
			},
			Handler: t.handleResourcesList,
		},
		{
			Name:        "studio_run_start",
			Description: "Start a pipeline run",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pipeline_id": map[string]interface{}{
						"type":        "string",
						"description": "Pipeline identifier",
					},
					"parameters": map[string]interface{}{
						"type":        "object",
						"description": "Run parameters passed to the pipeline",
					},
				},
				"required": []interface{}{"pipeline_id"},
			},
			Handler: t.handleRunStart,
		},
		{
			Name:        "studio_run_cancel",
			Description: "Cancel a running pipeline run",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pipeline_id": map[string]interface{}{
						"type":        "string",
						"description": "Pipeline identifier",
					},
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run identifier",
					},
				},
				"required": []interface{}{"pipeline_id", "run_id"},
			},
			Handler: t.handleRunCancel,
		},
		{
			Name:        "studio_run_retry",
			Description: "Retry a failed pipeline run",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pipeline_id": map[string]interface{}{
						"type":        "string",
						"description": "Pipeline identifier",
					},
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run identifier",
					},
				},
				"required": []interface{}{"pipeline_id", "run_id"},
			},
			Handler: t.handleRunRetry,
		},
		{
			Name:        "studio_cache_invalidate",
			Description: "Invalidate cached entries under a key prefix for the current user",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"prefix": map[string]interface{}{
						"type":        "string",
						"description": "Key prefix to invalidate (empty clears everything)",
					},
				},
			},
			Handler: t.handleCacheInvalidate,
		},
	}
}

func (t *StudioTools) handleStatus(ctx context.Context, args json.RawMessage) (interface{}, error) {
	status := map[string]interface{}{
		"cache": t.provider.Status(),
	}
	if t.connStatus != nil {
		status["studio"] = t.connStatus()
	}
	return status, nil
}

func (t *StudioTools) handlePipelineList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		BypassCache bool `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}

	data, err := t.provider.PipelineList(ctx, auth.OwnerFromContext(ctx), params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handlePipelineGet(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		PipelineID  string `json:"pipeline_id"`
		BypassCache bool   `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PipelineID == "" {
		return nil, fmt.Errorf("pipeline_id is required")
	}

	data, err := t.provider.PipelineDefinition(ctx, auth.OwnerFromContext(ctx), params.PipelineID, params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handlePipelineRuns(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		PipelineID  string `json:"pipeline_id"`
		BypassCache bool   `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PipelineID == "" {
		return nil, fmt.Errorf("pipeline_id is required")
	}

	data, err := t.provider.PipelineRuns(ctx, auth.OwnerFromContext(ctx), params.PipelineID, params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleRunsList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		BypassCache bool `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}

	data, err := t.provider.RunsList(ctx, auth.OwnerFromContext(ctx), params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleRunDetails(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		RunID       string `json:"run_id"`
		Completed   bool   `json:"completed,omitempty"`
		BypassCache bool   `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.RunID == "" {
		return nil, fmt.Errorf("run_id is required")
	}

	data, err := t.provider.RunDetails(ctx, auth.OwnerFromContext(ctx), params.RunID, params.Completed, params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleTasksList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		BypassCache bool `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}

	data, err := t.provider.TasksList(ctx, auth.OwnerFromContext(ctx), params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleGroupsList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		BypassCache bool `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}

	data, err := t.provider.GroupsList(ctx, auth.OwnerFromContext(ctx), params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleResourcesList(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		GroupID     string `json:"group_id"`
		BypassCache bool   `json:"bypass_cache,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	data, err := t.provider.ResourcesList(ctx, auth.OwnerFromContext(ctx), params.GroupID, params.BypassCache)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleRunStart(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		PipelineID string                 `json:"pipeline_id"`
		Parameters map[string]interface{} `json:"parameters,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PipelineID == "" {
		return nil, fmt.Errorf("pipeline_id is required")
	}

	owner := auth.OwnerFromContext(ctx)
	data, err := t.provider.StartRun(ctx, owner, params.PipelineID, params.Parameters)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Pipeline run started", map[string]interface{}{
		"pipeline_id": params.PipelineID,
	})
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleRunCancel(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		PipelineID string `json:"pipeline_id"`
		RunID      string `json:"run_id"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PipelineID == "" || params.RunID == "" {
		return nil, fmt.Errorf("pipeline_id and run_id are required")
	}

	data, err := t.provider.CancelRun(ctx, auth.OwnerFromContext(ctx), params.PipelineID, params.RunID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleRunRetry(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		PipelineID string `json:"pipeline_id"`
		RunID      string `json:"run_id"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PipelineID == "" || params.RunID == "" {
		return nil, fmt.Errorf("pipeline_id and run_id are required")
	}

	data, err := t.provider.RetryRun(ctx, auth.OwnerFromContext(ctx), params.PipelineID, params.RunID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (t *StudioTools) handleCacheInvalidate(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var params struct {
		Prefix string `json:"prefix,omitempty"`
	}
	if err := parseArgs(args, &params); err != nil {
		return nil, err
	}

	owner := auth.OwnerFromContext(ctx)
	removed := t.provider.Invalidate(ctx, owner, params.Prefix)

	t.logger.Info("Cache entries invalidated", map[string]interface{}{
		"prefix":  params.Prefix,
		"removed": removed,
	})
	return map[string]interface{}{
		"invalidated": removed,
	}, nil
}

// parseArgs unmarshals tool arguments, treating empty arguments as an empty
// object.
func parseArgs(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
