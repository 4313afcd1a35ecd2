// Package registry is the client for the package registry index API.
//
// It exposes pure metadata operations: listing a package's published
// versions, resolving a version constraint to a concrete version, and
// fetching a version's manifest (dependency constraints and declared
// targets). Responses are cached through a pluggable [cache.Cache] backend
// and transient HTTP failures are retried with exponential backoff.
//
// All methods are safe for concurrent use by multiple goroutines.
package registry
