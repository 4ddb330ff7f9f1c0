package cache

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/codes"

	"github.com/windriver/studio-mcp/internal/tracing"
)

// Store is the cache surface consumed by providers and tools. Satisfied
// by StudioCache and by the tracing decorator.
type Store interface {
	Get(ctx context.Context, owner Owner, key string) ([]byte, error)
	Put(ctx context.Context, owner Owner, key string, value []byte) error
	Delete(ctx context.Context, owner Owner, key string) error
	InvalidatePrefix(ctx context.Context, owner Owner, prefix string) int
	Stats() Stats
	Close() error
}

// TracedCache wraps a cache with distributed tracing spans.
type TracedCache struct {
	cache      Store
	spanHelper *tracing.SpanHelper
}

// NewTracedCache creates a traced cache wrapper. With a nil span helper
// the cache is returned unwrapped.
func NewTracedCache(cache Store, spanHelper *tracing.SpanHelper) Store {
	if spanHelper == nil {
		return cache
	}
	return &TracedCache{
		cache:      cache,
		spanHelper: spanHelper,
	}
}

// Get retrieves a value from the cache with tracing
func (tc *TracedCache) Get(ctx context.Context, owner Owner, key string) ([]byte, error) {
	ctx, span := tc.spanHelper.StartCacheOperationSpan(ctx, "get", key)
	defer span.End()

	data, err := tc.cache.Get(ctx, owner, key)
	if err != nil {
		tc.spanHelper.RecordCacheHit(ctx, false)
		// Misses are expected control flow, not span errors.
		if !errors.Is(err, ErrMiss) && !errors.Is(err, ErrDisabled) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache get failed")
		}
		return nil, err
	}

	tc.spanHelper.RecordCacheHit(ctx, true)
	span.SetStatus(codes.Ok, "cache hit")
	return data, nil
}

// Put stores a value in the cache with tracing
func (tc *TracedCache) Put(ctx context.Context, owner Owner, key string, value []byte) error {
	ctx, span := tc.spanHelper.StartCacheOperationSpan(ctx, "put", key)
	defer span.End()

	if err := tc.cache.Put(ctx, owner, key, value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache put failed")
		return err
	}

	span.SetStatus(codes.Ok, "cache put successful")
	return nil
}

// Delete removes a key from the cache with tracing
func (tc *TracedCache) Delete(ctx context.Context, owner Owner, key string) error {
	ctx, span := tc.spanHelper.StartCacheOperationSpan(ctx, "delete", key)
	defer span.End()

	if err := tc.cache.Delete(ctx, owner, key); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cache delete failed")
		return err
	}

	span.SetStatus(codes.Ok, "cache delete successful")
	return nil
}

// InvalidatePrefix removes matching entries with tracing
func (tc *TracedCache) InvalidatePrefix(ctx context.Context, owner Owner, prefix string) int {
	ctx, span := tc.spanHelper.StartCacheOperationSpan(ctx, "invalidate_prefix", prefix)
	defer span.End()

	return tc.cache.InvalidatePrefix(ctx, owner, prefix)
}

// Stats passes through to the wrapped cache.
func (tc *TracedCache) Stats() Stats {
	return tc.cache.Stats()
}

// Close passes through to the wrapped cache.
func (tc *TracedCache) Close() error {
	return tc.cache.Close()
}
