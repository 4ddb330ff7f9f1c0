package cache

import "fmt"

// Key constructors for Studio resources. All cache consumers build keys
// through these helpers so the tier classifier sees a stable grammar.

// PipelinesListKey keys the full pipeline listing.
func PipelinesListKey() string {
	return "pipelines:list"
}

// PipelineDefinitionKey keys a pipeline definition by id.
func PipelineDefinitionKey(pipelineID string) string {
	return fmt.Sprintf("pipeline:def:%s", pipelineID)
}

// PipelineRunsKey keys the run listing of one pipeline.
func PipelineRunsKey(pipelineID string) string {
	return fmt.Sprintf("pipeline:runs:%s", pipelineID)
}

// RunDetailsKey keys the live detail view of a run.
func RunDetailsKey(runID string) string {
	return fmt.Sprintf("run:details:%s", runID)
}

// CompletedRunKey keys the terminal snapshot of a run.
func CompletedRunKey(runID string) string {
	return fmt.Sprintf("run:completed:%s", runID)
}

// RunsListKey keys the cross-pipeline run listing.
func RunsListKey() string {
	return "runs:list"
}

// TasksListKey keys the task library listing.
func TasksListKey() string {
	return "tasks:list"
}

// GroupsListKey keys the resource group listing.
func GroupsListKey() string {
	return "groups:list"
}

// ResourcesListKey keys the resource listing of a group.
func ResourcesListKey(groupID string) string {
	return fmt.Sprintf("resources:list:%s", groupID)
}
