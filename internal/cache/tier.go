package cache

import (
	"strings"
	"time"
)

// Tier classifies cached payloads by volatility. Each tier carries its
// own TTL and its own slice of the memory budget, and the eviction
// controller drains tiers in ascending stability order.
type Tier int

const (
	// TierDynamic holds frequently changing data such as live run status.
	TierDynamic Tier = iota

	// TierSemiDynamic holds listings that change on user action but not
	// continuously.
	TierSemiDynamic

	// TierCompleted holds terminal-state records that no longer change
	// but may eventually be purged upstream.
	TierCompleted

	// TierImmutable holds definitions and configuration that never change
	// for a given identifier.
	TierImmutable

	tierCount = 4
)

// Default TTLs per tier.
const (
	DefaultDynamicTTL     = 60 * time.Second
	DefaultSemiDynamicTTL = 600 * time.Second
	DefaultCompletedTTL   = 86400 * time.Second
	DefaultImmutableTTL   = 3600 * time.Second
)

// String returns the tier name used in logs and metrics labels.
func (t Tier) String() string {
	switch t {
	case TierDynamic:
		return "dynamic"
	case TierSemiDynamic:
		return "semi_dynamic"
	case TierCompleted:
		return "completed"
	case TierImmutable:
		return "immutable"
	default:
		return "unknown"
	}
}

// evictionOrder lists tiers from most to least volatile. Under memory
// pressure the controller evicts in this order, after expired entries.
var evictionOrder = [tierCount]Tier{TierDynamic, TierSemiDynamic, TierCompleted, TierImmutable}

// DetectTier classifies a cache key by its shape. Keys are produced by
// the helpers in keys.go, so classification is a prefix/substring match
// over the stable key grammar.
func DetectTier(key string) Tier {
	k := strings.ToLower(key)

	// Definitions, task libraries and access configuration never change
	// for a given identifier.
	if strings.Contains(k, "definition") ||
		strings.Contains(k, "task_lib") ||
		strings.Contains(k, "pipeline:def:") ||
		strings.HasPrefix(k, "tasks:") ||
		strings.HasPrefix(k, "secrets:") ||
		strings.HasPrefix(k, "triggers:") ||
		strings.HasPrefix(k, "access-config:") {
		return TierImmutable
	}

	// Terminal run states are stable once reached.
	if strings.Contains(k, "completed") ||
		strings.Contains(k, "failed") ||
		strings.Contains(k, "finished") {
		return TierCompleted
	}

	// Listings change on user action, not continuously.
	if strings.Contains(k, "list") ||
		strings.HasPrefix(k, "pipelines:") ||
		strings.HasPrefix(k, "runs:") ||
		strings.HasPrefix(k, "resources:") ||
		strings.HasPrefix(k, "groups:") {
		return TierSemiDynamic
	}

	return TierDynamic
}

// skipPatterns marks key families that must never be cached regardless
// of tier, primarily credential material and one-shot handles.
var skipPatterns = []string{
	"auth",
	"token",
	"secret",
	"password",
	"credential",
	"session",
	"login",
	"oauth",
	"apikey",
	"api_key",
	"private",
}

// ShouldSkipCaching reports whether a key belongs to a family that is
// excluded from caching entirely.
func ShouldSkipCaching(key string) bool {
	k := strings.ToLower(key)
	for _, p := range skipPatterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// TTLFor returns the default TTL for a tier.
func TTLFor(t Tier) time.Duration {
	switch t {
	case TierImmutable:
		return DefaultImmutableTTL
	case TierCompleted:
		return DefaultCompletedTTL
	case TierSemiDynamic:
		return DefaultSemiDynamicTTL
	default:
		return DefaultDynamicTTL
	}
}
