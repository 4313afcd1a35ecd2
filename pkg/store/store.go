// Package store persists analyzed package versions into the ecosystem
// graph.
//
// Ingestion is batched at package-version granularity: one [Batch] holds
// everything a PackageVersion contributes and is applied as a single atomic
// transaction. A batch is either fully visible in the store or not visible
// at all, and upserts are keyed by content-derived identities so
// re-ingestion overwrites instead of duplicating.
package store

import (
	"context"

	"github.com/cratemap/cratemap/pkg/callgraph"
)

// Dependency is one resolved dependency edge of the ingested package
// version. Resolved always satisfies Constraint; jobs with an unsatisfiable
// constraint fail before reaching the store.
type Dependency struct {
	Name       string
	Constraint string
	Resolved   string
}

// Batch is the complete graph contribution of one package version.
type Batch struct {
	Package      string
	Version      string
	Dependencies []Dependency
	Functions    []callgraph.Function
	Edges        []callgraph.Edge
}

// Store is the ecosystem graph backend.
//
// Implementations must make Upsert atomic per batch and idempotent by
// identity key, and must be safe for concurrent use.
type Store interface {
	// Ping verifies connectivity. Called once at startup; failure aborts
	// the whole run before any job is scheduled.
	Ping(ctx context.Context) error

	// EnsureSchema creates indexes and uniqueness constraints.
	EnsureSchema(ctx context.Context) error

	// Upsert ingests one package version's batch atomically.
	Upsert(ctx context.Context, b *Batch) error

	// Has reports whether a package version is already ingested.
	Has(ctx context.Context, name, version string) (bool, error)

	// Exports returns an ingested package version's exported, demangled
	// functions keyed by qualified name. It lets a later run link against
	// packages ingested by an earlier one instead of leaving those calls
	// permanently external.
	Exports(ctx context.Context, name, version string) (map[string]callgraph.ID, error)

	Close(ctx context.Context) error
}
