// Package ir parses compiled intermediate-representation artifacts into
// in-memory modules.
//
// A package version's extracted archive contains one or more IR artifacts,
// each describing the functions of one translation unit and the call
// instructions inside them. Two encodings of the same structure exist:
// a textual form (.cmir) used by toolchains in debug configurations, and a
// compact binary form (.cmbc) emitted by release builds. The loader accepts
// both and produces identical modules for equivalent inputs.
//
// Malformed or version-mismatched input never panics and never yields a
// partial module: Load returns a nil module with a PARSE_ERROR or
// UNSUPPORTED_IR_VERSION error, and the caller marks the job Skipped.
package ir

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// FormatVersion is the IR format major version this loader understands.
// Artifacts declaring any other major version are rejected as unsupported
// rather than misparsed.
const FormatVersion = 1

// Module is one parsed IR artifact: an ordered set of function definitions
// and their call instructions. A module is owned exclusively by the job
// that parsed it and is discarded once the call-graph builder has consumed
// it.
type Module struct {
	Path      string // module path declared by the artifact, e.g. "serde/ser"
	Functions []Function
}

// Function is one function definition in a module.
type Function struct {
	Linkage  string // mangled linkage name
	Exported bool   // visible outside the defining module
	Generic  bool   // a generic instantiation
	Calls    []CallSite
}

// CallKind distinguishes the call instruction variants the IR records.
type CallKind int

const (
	// KindCall is an ordinary direct call instruction.
	KindCall CallKind = iota
	// KindInvoke is a call with an unwind edge; for call-graph purposes it
	// is equivalent to KindCall.
	KindInvoke
	// KindIndirect is a call through a non-constant target (function
	// pointer, dynamic dispatch). It has no recoverable target.
	KindIndirect
)

// CallSite is one call instruction inside a function body.
type CallSite struct {
	Kind   CallKind
	Target string // mangled callee linkage; empty for KindIndirect
}

// Artifact extensions recognized by Discover.
const (
	ExtText   = ".cmir"
	ExtBinary = ".cmbc"
)

// Discover walks root and returns the paths of all IR artifacts beneath
// it, sorted by the walk order (lexical within each directory). A package
// archive may ship artifacts anywhere in its tree, so the whole tree is
// searched.
func Discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ExtText, ExtBinary:
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
