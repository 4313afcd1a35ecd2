package store

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/cratemap/cratemap/pkg/callgraph"
	"github.com/cratemap/cratemap/pkg/demangle"
	"github.com/cratemap/cratemap/pkg/errors"
)

func testBatch() *Batch {
	caller := callgraph.ID{Package: "serde", Version: "1.0.0", Module: "serde/lib", Hash: "aa"}
	return &Batch{
		Package: "serde",
		Version: "1.0.0",
		Dependencies: []Dependency{
			{Name: "itoa", Constraint: "^1.0", Resolved: "1.0.11"},
		},
		Functions: []callgraph.Function{
			{ID: caller, Mangled: "_ZN5serde3serE", Exported: true},
		},
		Edges: []callgraph.Edge{
			{Caller: caller, Kind: callgraph.External, Symbol: "itoa::write"},
		},
	}
}

func TestMemoryStore_UpsertAndHas(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ok, err := s.Has(ctx, "serde", "1.0.0")
	if err != nil || ok {
		t.Fatalf("Has() = %v, %v before upsert", ok, err)
	}

	if err := s.Upsert(ctx, testBatch()); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	ok, err = s.Has(ctx, "serde", "1.0.0")
	if err != nil || !ok {
		t.Fatalf("Has() = %v, %v after upsert", ok, err)
	}
	if ok, _ := s.Has(ctx, "serde", "2.0.0"); ok {
		t.Error("Has() conflates versions")
	}
}

func TestMemoryStore_UpsertIdempotent(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if err := s.Upsert(ctx, testBatch()); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, testBatch()); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after re-ingest, want 1", s.Len())
	}
	b := s.Batch("serde", "1.0.0")
	if len(b.Functions) != 1 || len(b.Edges) != 1 {
		t.Errorf("re-ingest duplicated content: %d functions, %d edges", len(b.Functions), len(b.Edges))
	}
}

func TestMemoryStore_FailedUpsertLeavesNothing(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	s.FailNext(stderrors.New("connection reset"))
	err := s.Upsert(ctx, testBatch())
	if !errors.Is(err, errors.ErrCodeIngestion) {
		t.Fatalf("error = %v, want INGESTION_ERROR", err)
	}
	if ok, _ := s.Has(ctx, "serde", "1.0.0"); ok {
		t.Error("failed upsert left the package version visible")
	}

	// The failure is one-shot; the retry succeeds.
	if err := s.Upsert(ctx, testBatch()); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestMemoryStore_Exports(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	id := func(hash string) callgraph.ID {
		return callgraph.ID{Package: "serde", Version: "1.0.0", Module: "serde/lib", Hash: hash}
	}
	b := &Batch{
		Package: "serde",
		Version: "1.0.0",
		Functions: []callgraph.Function{
			{
				ID:        id("aa"),
				Identity:  demangle.Identity{Segments: []string{"serde"}, Name: "to_string"},
				Demangled: true,
				Exported:  true,
			},
			{
				// Exported but not demangled: absent from the export table,
				// matching Graph.Exports.
				ID:       id("bb"),
				Mangled:  "_ZN9999999999999999999E",
				Exported: true,
			},
			{
				ID:        id("cc"),
				Identity:  demangle.Identity{Segments: []string{"serde"}, Name: "internal"},
				Demangled: true,
			},
		},
	}
	if err := s.Upsert(ctx, b); err != nil {
		t.Fatal(err)
	}

	exports, err := s.Exports(ctx, "serde", "1.0.0")
	if err != nil {
		t.Fatalf("Exports() error: %v", err)
	}
	if len(exports) != 1 {
		t.Fatalf("got %d exports, want 1: %v", len(exports), exports)
	}
	if got := exports["serde::to_string"]; got != id("aa") {
		t.Errorf("exports[serde::to_string] = %+v, want %+v", got, id("aa"))
	}

	// A package version that was never ingested has no exports.
	exports, err = s.Exports(ctx, "serde", "9.9.9")
	if err != nil || len(exports) != 0 {
		t.Errorf("Exports of missing version = %v, %v", exports, err)
	}
}

func TestUpsertSteps_IndirectSitesKeepMultiplicity(t *testing.T) {
	a := callgraph.ID{Package: "p", Version: "1", Module: "p/lib", Hash: "aa"}
	b := callgraph.ID{Package: "p", Version: "1", Module: "p/lib", Hash: "bb"}
	batch := &Batch{
		Package: "p",
		Version: "1",
		Edges: []callgraph.Edge{
			{Caller: a, Kind: callgraph.Indirect},
			{Caller: a, Kind: callgraph.Indirect},
			{Caller: a, Kind: callgraph.Indirect},
			{Caller: b, Kind: callgraph.Indirect},
		},
	}

	var rows []map[string]any
	for _, step := range upsertSteps(batch) {
		if strings.Contains(step.cypher, "'indirect'") {
			rows = step.params
		}
	}
	if len(rows) != 2 {
		t.Fatalf("got %d indirect rows, want one per caller (2): %v", len(rows), rows)
	}
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row["caller"].(string)] = row["count"].(int)
	}
	if counts[a.String()] != 3 {
		t.Errorf("caller with three sites has count %d", counts[a.String()])
	}
	if counts[b.String()] != 1 {
		t.Errorf("caller with one site has count %d", counts[b.String()])
	}
}

func TestMemoryStore_CommittedStateIsIsolated(t *testing.T) {
	s := NewMemory()
	b := testBatch()
	if err := s.Upsert(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	b.Functions[0].Exported = false
	b.Edges[0].Symbol = "mutated"

	got := s.Batch("serde", "1.0.0")
	if !got.Functions[0].Exported {
		t.Error("caller mutation reached committed function")
	}
	if got.Edges[0].Symbol != "itoa::write" {
		t.Error("caller mutation reached committed edge")
	}
}
