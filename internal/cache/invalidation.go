package cache

import (
	"context"
	"strings"

	"github.com/windriver/studio-mcp/internal/observability"
)

// InvalidationRule maps a mutating operation to the cache keys it makes
// stale. Operation patterns match dot-separated segments where "*"
// matches one segment. Key patterns may carry "{param}" placeholders
// filled from the operation's parameters, and a trailing "*" requests
// prefix invalidation.
type InvalidationRule struct {
	Operation string
	Keys      []string
}

// DefaultInvalidationRules covers the Studio mutation surface.
func DefaultInvalidationRules() []InvalidationRule {
	return []InvalidationRule{
		{Operation: "studio.pipeline.create", Keys: []string{"pipelines:list"}},
		{Operation: "studio.pipeline.update", Keys: []string{"pipeline:def:{pipeline_id}", "pipelines:list"}},
		{Operation: "studio.pipeline.delete", Keys: []string{"pipeline:def:{pipeline_id}", "pipeline:runs:{pipeline_id}", "pipelines:list"}},
		{Operation: "studio.run.start", Keys: []string{"pipeline:runs:{pipeline_id}", "runs:list"}},
		{Operation: "studio.run.cancel", Keys: []string{"run:details:{run_id}", "pipeline:runs:{pipeline_id}", "runs:list"}},
		{Operation: "studio.run.retry", Keys: []string{"run:details:{run_id}", "pipeline:runs:{pipeline_id}", "runs:list"}},
		{Operation: "studio.run.complete", Keys: []string{"run:details:{run_id}", "pipeline:runs:{pipeline_id}", "runs:list"}},
		{Operation: "studio.task.*", Keys: []string{"tasks:list"}},
		{Operation: "studio.group.*", Keys: []string{"groups:list", "resources:list:*"}},
		{Operation: "studio.resource.*", Keys: []string{"resources:list:{group_id}", "groups:list"}},
	}
}

// Invalidator translates mutation operations into cache invalidations.
// One instance serves all owners; the owner scoping happens per call.
type Invalidator struct {
	rules  []InvalidationRule
	cache  Store
	logger observability.Logger
}

// NewInvalidator builds an invalidator over the default rule set.
func NewInvalidator(cache Store, logger observability.Logger) *Invalidator {
	return NewInvalidatorWithRules(cache, logger, DefaultInvalidationRules())
}

// NewInvalidatorWithRules builds an invalidator with an explicit rule set.
func NewInvalidatorWithRules(cache Store, logger observability.Logger, rules []InvalidationRule) *Invalidator {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Invalidator{rules: rules, cache: cache, logger: logger}
}

// OnOperation applies every matching rule for the given operation and
// returns the number of entries invalidated. Unknown operations are a
// no-op.
func (iv *Invalidator) OnOperation(ctx context.Context, owner Owner, operation string, params map[string]string) int {
	total := 0
	for _, rule := range iv.rules {
		if !operationMatches(rule.Operation, operation) {
			continue
		}
		for _, pattern := range rule.Keys {
			key, prefix := expandKeyPattern(pattern, params)
			if key == "" {
				continue
			}
			if prefix {
				total += iv.cache.InvalidatePrefix(ctx, owner, key)
			} else {
				_ = iv.cache.Delete(ctx, owner, key)
				total++
			}
		}
	}
	if total > 0 {
		iv.logger.Debug("invalidation applied", map[string]interface{}{
			"operation": operation,
			"entries":   total,
		})
	}
	return total
}

// operationMatches compares dot-separated operation names, where a "*"
// segment in the pattern matches any single segment and a trailing "*"
// matches the remainder.
func operationMatches(pattern, op string) bool {
	if pattern == op {
		return true
	}
	pp := strings.Split(pattern, ".")
	op2 := strings.Split(op, ".")
	for i, seg := range pp {
		if seg == "*" && i == len(pp)-1 {
			return len(op2) > i
		}
		if i >= len(op2) {
			return false
		}
		if seg != "*" && seg != op2[i] {
			return false
		}
	}
	return len(pp) == len(op2)
}

// expandKeyPattern substitutes "{param}" placeholders from params. An
// unresolved placeholder truncates the pattern there and downgrades it
// to a prefix invalidation, as does a trailing "*".
func expandKeyPattern(pattern string, params map[string]string) (string, bool) {
	if strings.HasSuffix(pattern, "*") {
		expanded, _ := expandKeyPattern(strings.TrimSuffix(pattern, "*"), params)
		return expanded, true
	}

	var b strings.Builder
	rest := pattern
	for {
		start := strings.Index(rest, "{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), false
		}
		end := strings.Index(rest, "}")
		if end < start {
			b.WriteString(rest)
			return b.String(), false
		}
		b.WriteString(rest[:start])
		name := rest[start+1 : end]
		val, ok := params[name]
		if !ok || val == "" {
			// No value for the placeholder: invalidate everything under
			// the resolved prefix instead.
			return b.String(), true
		}
		b.WriteString(val)
		rest = rest[end+1:]
	}
}
