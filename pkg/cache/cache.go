// Package cache provides pluggable byte-level cache backends.
//
// The registry index client caches HTTP responses through [Cache]; which
// backend serves it is a deployment decision. A single workstation run uses
// [FileCache], a fleet of analyzers sharing one registry mirror uses
// [RedisCache], and tests use [NullCache] to disable caching entirely.
package cache

import (
	"context"
	"strings"
	"time"
)

// keyType extracts the key's namespace (the part before the first ':') for
// observability hooks, so metrics group by kind rather than by package.
func keyType(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// Cache is a byte-level key-value store with per-entry TTL.
//
// Implementations must be safe for concurrent use: the pipeline runs many
// analysis jobs at once and all of them share one cache instance.
type Cache interface {
	// Get retrieves a value. The second return reports whether the key was
	// present and fresh; an expired or missing entry is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL. A TTL of 0 means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend.
	Close() error
}
