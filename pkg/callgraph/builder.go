package callgraph

import (
	"strings"

	"github.com/cratemap/cratemap/pkg/demangle"
	"github.com/cratemap/cratemap/pkg/ir"
)

// DefaultSkipPrefixes lists the runtime and intrinsic symbol namespaces
// whose call edges carry no ecosystem signal. A callee whose demangled name
// (or raw linkage name) starts with one of these is not recorded.
var DefaultSkipPrefixes = []string{
	"llvm.",
	"__rust",
	"rt::",
	"std::",
	"core::",
	"alloc::",
}

// Builder turns the IR modules of one package version into a Graph.
type Builder struct {
	pkg     string
	version string
	skip    []string
}

// NewBuilder creates a builder for the given package version using the
// default skip list.
func NewBuilder(pkg, version string) *Builder {
	return &Builder{pkg: pkg, version: version, skip: DefaultSkipPrefixes}
}

// WithSkipPrefixes replaces the callee skip list. An empty list records
// every edge.
func (b *Builder) WithSkipPrefixes(prefixes []string) *Builder {
	b.skip = prefixes
	return b
}

// Build constructs the call graph from the package version's parsed
// modules. Resolution is two-pass: every definition across all modules is
// indexed first, then call sites are classified against that index, so a
// call into a sibling module of the same package resolves Direct no matter
// which module parses first.
func (b *Builder) Build(modules []*ir.Module) *Graph {
	g := &Graph{Package: b.pkg, Version: b.version}

	defined := make(map[string]ID)
	for _, m := range modules {
		for _, fn := range m.Functions {
			id := ID{
				Package: b.pkg,
				Version: b.version,
				Module:  m.Path,
				Hash:    signatureHash(fn.Linkage),
			}
			if _, dup := defined[fn.Linkage]; dup {
				// Duplicate linkage names across modules keep the first
				// definition, matching linker semantics.
				continue
			}
			defined[fn.Linkage] = id

			identity, ok := demangle.Demangle(fn.Linkage)
			g.Functions = append(g.Functions, Function{
				ID:        id,
				Mangled:   fn.Linkage,
				Identity:  identity,
				Demangled: ok,
				Exported:  fn.Exported,
				Generic:   fn.Generic || identity.IsGeneric(),
			})
		}
	}

	for _, m := range modules {
		for _, fn := range m.Functions {
			caller, ok := defined[fn.Linkage]
			if !ok || caller.Module != m.Path {
				continue
			}
			for _, cs := range fn.Calls {
				if e, ok := b.classify(caller, defined, cs); ok {
					g.Edges = append(g.Edges, e)
				}
			}
		}
	}
	return g
}

func (b *Builder) classify(caller ID, defined map[string]ID, cs ir.CallSite) (Edge, bool) {
	if cs.Kind == ir.KindIndirect {
		// Indirect edges survive unconditionally: dropping them would make
		// reachability over the final graph silently unsound.
		return Edge{Caller: caller, Kind: Indirect}, true
	}

	if callee, ok := defined[cs.Target]; ok {
		return Edge{Caller: caller, Kind: Direct, Callee: callee}, true
	}

	symbol := cs.Target
	if identity, ok := demangle.Demangle(cs.Target); ok {
		symbol = identity.Key()
	}
	if b.skipped(symbol) {
		return Edge{}, false
	}
	return Edge{Caller: caller, Kind: External, Symbol: symbol}, true
}

func (b *Builder) skipped(symbol string) bool {
	for _, p := range b.skip {
		if strings.HasPrefix(symbol, p) {
			return true
		}
	}
	return false
}
