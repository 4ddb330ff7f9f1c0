package studio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/windriver/studio-mcp/internal/cache"
	"github.com/windriver/studio-mcp/internal/observability"
)

// Provider serves Studio resources through the tiered cache. Reads go
// cache-first and fall back to the Fetcher on a miss; mutations go straight
// to the API and invalidate the entries they made stale.
type Provider struct {
	fetcher     Fetcher
	cache       cache.Store
	invalidator *cache.Invalidator
	logger      observability.Logger
}

// NewProvider wires a provider over the given transport and cache.
func NewProvider(fetcher Fetcher, store cache.Store, invalidator *cache.Invalidator, logger observability.Logger) *Provider {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Provider{
		fetcher:     fetcher,
		cache:       store,
		invalidator: invalidator,
		logger:      logger,
	}
}

// cached serves one read operation. With bypass set the cache lookup is
// skipped but the fresh result still replaces the stored entry.
func (p *Provider) cached(ctx context.Context, owner cache.Owner, key, operation, path string, bypass bool) ([]byte, error) {
	if !bypass {
		if data, err := p.cache.Get(ctx, owner, key); err == nil {
			return data, nil
		}
	}

	data, err := p.fetcher.Get(ctx, operation, path)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Put(ctx, owner, key, data); err != nil {
		// A full cache must not fail the read; the caller still gets data.
		p.logger.Warn("Failed to cache response", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}

	return data, nil
}

// PipelineList returns all pipelines visible to the owner.
func (p *Provider) PipelineList(ctx context.Context, owner cache.Owner, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.PipelinesListKey(), "pipelines.list", "/api/v1/pipelines", bypass)
}

// PipelineDefinition returns one pipeline definition.
func (p *Provider) PipelineDefinition(ctx context.Context, owner cache.Owner, pipelineID string, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.PipelineDefinitionKey(pipelineID), "pipelines.get",
		"/api/v1/pipelines/"+url.PathEscape(pipelineID), bypass)
}

// PipelineRuns returns the run listing of one pipeline.
func (p *Provider) PipelineRuns(ctx context.Context, owner cache.Owner, pipelineID string, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.PipelineRunsKey(pipelineID), "pipelines.runs",
		"/api/v1/pipelines/"+url.PathEscape(pipelineID)+"/runs", bypass)
}

// RunsList returns the cross-pipeline run listing.
func (p *Provider) RunsList(ctx context.Context, owner cache.Owner, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.RunsListKey(), "runs.list", "/api/v1/runs", bypass)
}

// RunDetails returns the detail view of a run. Completed runs are cached
// under their own key so they land in the long-lived tier.
func (p *Provider) RunDetails(ctx context.Context, owner cache.Owner, runID string, completed, bypass bool) ([]byte, error) {
	key := cache.RunDetailsKey(runID)
	if completed {
		key = cache.CompletedRunKey(runID)
	}
	return p.cached(ctx, owner, key, "runs.details",
		"/api/v1/runs/"+url.PathEscape(runID), bypass)
}

// TasksList returns the task library listing.
func (p *Provider) TasksList(ctx context.Context, owner cache.Owner, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.TasksListKey(), "tasks.list", "/api/v1/tasks", bypass)
}

// GroupsList returns the resource group listing.
func (p *Provider) GroupsList(ctx context.Context, owner cache.Owner, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.GroupsListKey(), "groups.list", "/api/v1/groups", bypass)
}

// ResourcesList returns the resources of one group.
func (p *Provider) ResourcesList(ctx context.Context, owner cache.Owner, groupID string, bypass bool) ([]byte, error) {
	return p.cached(ctx, owner, cache.ResourcesListKey(groupID), "resources.list",
		"/api/v1/groups/"+url.PathEscape(groupID)+"/resources", bypass)
}

// StartRun starts a pipeline run and invalidates the affected listings.
func (p *Provider) StartRun(ctx context.Context, owner cache.Owner, pipelineID string, params map[string]interface{}) ([]byte, error) {
	data, err := p.fetcher.Post(ctx, "runs.start",
		"/api/v1/pipelines/"+url.PathEscape(pipelineID)+"/runs", params)
	if err != nil {
		return nil, err
	}

	p.invalidate(ctx, owner, "studio.run.start", map[string]string{
		"pipeline_id": pipelineID,
	})
	return data, nil
}

// CancelRun cancels a run and invalidates its cached views.
func (p *Provider) CancelRun(ctx context.Context, owner cache.Owner, pipelineID, runID string) ([]byte, error) {
	data, err := p.fetcher.Post(ctx, "runs.cancel",
		"/api/v1/runs/"+url.PathEscape(runID)+"/cancel", nil)
	if err != nil {
		return nil, err
	}

	p.invalidate(ctx, owner, "studio.run.cancel", map[string]string{
		"pipeline_id": pipelineID,
		"run_id":      runID,
	})
	return data, nil
}

// RetryRun retries a failed run and invalidates its cached views.
func (p *Provider) RetryRun(ctx context.Context, owner cache.Owner, pipelineID, runID string) ([]byte, error) {
	data, err := p.fetcher.Post(ctx, "runs.retry",
		"/api/v1/runs/"+url.PathEscape(runID)+"/retry", nil)
	if err != nil {
		return nil, err
	}

	p.invalidate(ctx, owner, "studio.run.retry", map[string]string{
		"pipeline_id": pipelineID,
		"run_id":      runID,
	})
	return data, nil
}

// Mutate performs an arbitrary mutation and applies the invalidation rules
// registered for the operation name.
func (p *Provider) Mutate(ctx context.Context, owner cache.Owner, operation, path string, body interface{}, params map[string]string) ([]byte, error) {
	data, err := p.fetcher.Post(ctx, operation, path, body)
	if err != nil {
		return nil, err
	}

	p.invalidate(ctx, owner, operation, params)
	return data, nil
}

func (p *Provider) invalidate(ctx context.Context, owner cache.Owner, operation string, params map[string]string) {
	if p.invalidator == nil {
		return
	}
	n := p.invalidator.OnOperation(ctx, owner, operation, params)
	p.logger.Debug("Mutation invalidated cache entries", map[string]interface{}{
		"operation": operation,
		"entries":   n,
	})
}

// Warm pre-populates the pipeline listing and each pipeline's definition
// for the owner. Failures are logged and skipped; warming is best effort.
func (p *Provider) Warm(ctx context.Context, owner cache.Owner) error {
	data, err := p.PipelineList(ctx, owner, false)
	if err != nil {
		return fmt.Errorf("warm pipeline list: %w", err)
	}

	ids := pipelineIDs(data)
	for _, id := range ids {
		if _, err := p.PipelineDefinition(ctx, owner, id, false); err != nil {
			p.logger.Warn("Failed to warm pipeline definition", map[string]interface{}{
				"pipeline_id": id,
				"error":       err.Error(),
			})
		}
	}

	p.logger.Info("Cache warmed", map[string]interface{}{
		"pipelines": len(ids),
	})
	return nil
}

// Invalidate drops the owner's cached entries under the given prefix. An
// empty prefix clears the owner's whole namespace.
func (p *Provider) Invalidate(ctx context.Context, owner cache.Owner, prefix string) int {
	return p.cache.InvalidatePrefix(ctx, owner, prefix)
}

// Status returns a cache snapshot for the studio://status resource.
func (p *Provider) Status() cache.Stats {
	return p.cache.Stats()
}

// pipelineIDs extracts pipeline ids from a listing payload. Accepts both a
// bare array and an object with a "pipelines" field.
func pipelineIDs(data []byte) []string {
	type pipeline struct {
		ID string `json:"id"`
	}

	var list []pipeline
	if err := json.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Pipelines []pipeline `json:"pipelines"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil
		}
		list = wrapped.Pipelines
	}

	ids := make([]string, 0, len(list))
	for _, pl := range list {
		if pl.ID != "" {
			ids = append(ids, pl.ID)
		}
	}
	return ids
}
