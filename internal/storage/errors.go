package storage

import "errors"

// Errors shared by price-cache store implementations.
var (
	// ErrNotFound is returned when a requested cache partition does not
	// exist. Callers treat it as an empty cache, not a failure.
	ErrNotFound = errors.New("cache partition not found")

	// ErrCacheFormat is returned when a persisted cache entry cannot be
	// decoded, typically after a format change. The fix is operational:
	// delete the cache file and rerun.
	ErrCacheFormat = errors.New("cache format mismatch: delete the cache file and rerun")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
