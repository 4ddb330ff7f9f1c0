package cache

import (
	"errors"
)

// Sentinel errors returned by cache operations. ErrMiss is ordinary
// control flow: callers fall through to the backing fetch. The others
// signal real faults.
var (
	// ErrMiss indicates the key is absent or its entry expired.
	ErrMiss = errors.New("cache: miss")

	// ErrCapacityExceeded indicates a put could not be admitted because
	// eviction, constrained by tier floors, could not free enough memory.
	ErrCapacityExceeded = errors.New("cache: capacity exceeded")

	// ErrDisabled indicates the cache is configured off. Callers treat
	// reads as misses and writes as no-ops.
	ErrDisabled = errors.New("cache: disabled")

	// ErrValueTooLarge indicates a single payload exceeds the entire
	// memory budget and can never be admitted.
	ErrValueTooLarge = errors.New("cache: value exceeds memory budget")
)
