// Package callgraph builds per-package call graphs from parsed IR modules.
//
// The builder consumes ir.Module values, demangles every definition and call
// target, and emits a Graph of function nodes and tagged call edges. Edges
// whose target is defined inside the same package version are resolved to
// Direct immediately; calls into other packages surface as External and are
// left for the cross-package merger; calls through function pointers or
// dynamic dispatch are recorded as Indirect rather than dropped, so
// reachability analysis over the final graph stays complete.
package callgraph

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/cratemap/cratemap/pkg/demangle"
)

// ID is the canonical identity of a function node: the defining package
// version, the module path it was parsed from, and a content-derived
// signature hash. Two analyses of the same artifact always produce the same
// ID, which is what makes re-ingestion an overwrite instead of a duplicate.
type ID struct {
	Package string
	Version string
	Module  string
	Hash    string
}

// String renders the identity in its stable store form.
func (id ID) String() string {
	return id.Package + "@" + id.Version + "/" + id.Module + "#" + id.Hash
}

// Function is one function definition recovered from an IR module.
type Function struct {
	ID        ID
	Mangled   string
	Identity  demangle.Identity
	Demangled bool
	Exported  bool
	Generic   bool
}

// Name returns the human-readable name: the demangled key when the linkage
// name decoded, the raw linkage name otherwise.
func (f Function) Name() string {
	if f.Demangled {
		return f.Identity.Key()
	}
	return f.Mangled
}

// EdgeKind tags a call edge by how far its target has been resolved.
type EdgeKind int

const (
	// Direct targets a function defined in an analyzed package version.
	Direct EdgeKind = iota
	// External targets a symbol outside this package, pending (or past)
	// cross-package resolution.
	External
	// Indirect has no statically recoverable target.
	Indirect
)

func (k EdgeKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case External:
		return "external"
	case Indirect:
		return "indirect"
	}
	return "unknown"
}

// Edge is one call site. Callee is populated for Direct edges; Symbol holds
// the demangled callee key for External edges (empty for Indirect).
type Edge struct {
	Caller ID
	Kind   EdgeKind
	Callee ID
	Symbol string
}

// Graph is the call graph of a single package version: its function node
// set and call edge set, some edges possibly still External.
type Graph struct {
	Package   string
	Version   string
	Functions []Function
	Edges     []Edge
}

// Exports returns the demangled keys of this graph's exported functions,
// mapped to their identities. This is the package's contribution to the
// shared export index.
func (g *Graph) Exports() map[string]ID {
	out := make(map[string]ID)
	for _, fn := range g.Functions {
		if fn.Exported && fn.Demangled {
			out[fn.Identity.Key()] = fn.ID
		}
	}
	return out
}

// signatureHash derives the identity hash from the mangled linkage name.
// Distinct generic instantiations carry distinct disambiguator segments in
// their linkage names, so they hash apart.
func signatureHash(mangled string) string {
	sum := sha256.Sum256([]byte(mangled))
	return hex.EncodeToString(sum[:8])
}
