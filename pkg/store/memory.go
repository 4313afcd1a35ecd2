package store

import (
	"context"
	"sync"

	"github.com/cratemap/cratemap/pkg/callgraph"
	"github.com/cratemap/cratemap/pkg/errors"
)

// MemoryStore is an in-process Store used by tests and dry runs. It mirrors
// the Neo4j store's contract: atomic per-batch upserts, idempotent by
// package version key.
type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]*Batch

	// failures is a queue of errors consumed one per Upsert before any
	// commit. Lets tests assert that a failed ingestion leaves nothing
	// behind and that retry loops are bounded.
	failures []error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{batches: make(map[string]*Batch)}
}

// FailNext queues err to fail one future Upsert.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	s.failures = append(s.failures, err)
	s.mu.Unlock()
}

func (s *MemoryStore) Ping(ctx context.Context) error         { return nil }
func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Upsert(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeIngestion, err, "ingest %s@%s", b.Package, b.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return errors.Wrap(errors.ErrCodeIngestion, err, "ingest %s@%s", b.Package, b.Version)
	}

	// Copy the batch so later caller mutations cannot reach committed state.
	c := *b
	c.Dependencies = append([]Dependency(nil), b.Dependencies...)
	c.Functions = append(c.Functions[:0:0], b.Functions...)
	c.Edges = append(c.Edges[:0:0], b.Edges...)
	s.batches[b.Package+"@"+b.Version] = &c
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, name, version string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.batches[name+"@"+version]
	return ok, nil
}

// Exports returns the exported, demangled functions of an ingested package
// version, keyed by qualified name. Missing package versions yield an empty
// map.
func (s *MemoryStore) Exports(ctx context.Context, name, version string) (map[string]callgraph.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exports := make(map[string]callgraph.ID)
	b, ok := s.batches[name+"@"+version]
	if !ok {
		return exports, nil
	}
	for _, fn := range b.Functions {
		if fn.Exported && fn.Demangled {
			exports[fn.Identity.Key()] = fn.ID
		}
	}
	return exports, nil
}

// Batch returns the committed batch for a package version, or nil.
func (s *MemoryStore) Batch(name, version string) *Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches[name+"@"+version]
}

// Len returns the number of ingested package versions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches)
}

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

var _ Store = (*MemoryStore)(nil)
