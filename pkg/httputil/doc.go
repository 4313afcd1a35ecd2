// Package httputil provides retry infrastructure for everything that talks
// to a package registry or the graph store.
//
// Only errors wrapped in [RetryableError] are retried; terminal failures
// (404, corrupt payloads, constraint violations) return immediately. The
// retry cap and initial delay are caller-controlled so the pipeline
// scheduler can enforce its configured bound, and the delay doubles after
// each failed attempt.
package httputil
