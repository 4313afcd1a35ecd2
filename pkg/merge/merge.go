// Package merge resolves cross-package call edges against a shared export
// index.
//
// Every analyzed package version publishes its exported functions exactly
// once; in-flight merges read the index concurrently. Resolution is a pure
// lookup against already-published, immutable entries, so applying merges in
// any order over a fixed set of inputs produces an identical final graph.
package merge

import (
	"sync"

	"github.com/cratemap/cratemap/pkg/callgraph"
)

// Target names one resolved dependency a package's external edges may bind
// to. Resolution never looks beyond the caller's declared dependencies: a
// symbol match in an unrelated package is a coincidence, not an edge.
type Target struct {
	Name    string
	Version string
}

func (t Target) key() string { return t.Name + "@" + t.Version }

// Index is the shared export index: demangled identity key to function
// identity, partitioned by publishing package version. Appends happen once
// per package version; entries are immutable after publication.
type Index struct {
	mu      sync.RWMutex
	exports map[string]map[string]callgraph.ID
}

// NewIndex returns an empty export index.
func NewIndex() *Index {
	return &Index{exports: make(map[string]map[string]callgraph.ID)}
}

// Publish appends a package version's exported functions to the index. The
// entry becomes visible to concurrent readers atomically: a reader observes
// either none of the package's exports or all of them. Re-publishing the
// same package version replaces its entry wholesale, which keeps
// re-analysis idempotent.
func (x *Index) Publish(g *callgraph.Graph) {
	entry := g.Exports()
	key := Target{Name: g.Package, Version: g.Version}.key()

	x.mu.Lock()
	x.exports[key] = entry
	x.mu.Unlock()
}

// PublishExports records a prebuilt export table for a package version.
// This is how dependencies ingested by a previous run enter the index: their
// exports are read back from the store rather than built from a graph in
// memory. Same visibility and replacement semantics as [Index.Publish].
func (x *Index) PublishExports(name, version string, exports map[string]callgraph.ID) {
	entry := make(map[string]callgraph.ID, len(exports))
	for k, id := range exports {
		entry[k] = id
	}

	x.mu.Lock()
	x.exports[Target{Name: name, Version: version}.key()] = entry
	x.mu.Unlock()
}

// Published reports whether the given package version has published its
// exports.
func (x *Index) Published(name, version string) bool {
	x.mu.RLock()
	_, ok := x.exports[Target{Name: name, Version: version}.key()]
	x.mu.RUnlock()
	return ok
}

// Len returns the number of published package versions.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.exports)
}

// Resolve rewrites the graph's External edges to Direct where their symbol
// is exported by one of the caller's resolved dependencies, and returns how
// many edges it rewrote. Edges that match nothing stay External, recorded
// permanently as calls out of the analyzed ecosystem. Indirect and Direct
// edges pass through untouched.
func (x *Index) Resolve(g *callgraph.Graph, deps []Target) int {
	x.mu.RLock()
	tables := make([]map[string]callgraph.ID, 0, len(deps))
	for _, d := range deps {
		if t, ok := x.exports[d.key()]; ok {
			tables = append(tables, t)
		}
	}
	x.mu.RUnlock()

	rewritten := 0
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.Kind != callgraph.External {
			continue
		}
		for _, t := range tables {
			if id, ok := t[e.Symbol]; ok {
				e.Kind = callgraph.Direct
				e.Callee = id
				rewritten++
				break
			}
		}
	}
	return rewritten
}
