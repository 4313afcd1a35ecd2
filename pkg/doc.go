// Package pkg provides the core libraries for cratemap ecosystem analysis.
//
// # Overview
//
// cratemap resolves package versions against a registry index, extracts
// their compiled IR artifacts, builds per-package call graphs and links the
// results into one ecosystem-wide graph in Neo4j. The pkg directory is
// organized along that flow:
//
//  1. [registry] - Index client: version listings, manifests, archives
//  2. [archive] - Checksum-verified download and bounded extraction
//  3. [ir] - Compiled IR artifact parsing (text and binary encodings)
//  4. [demangle] - Linkage symbol demangling into structured identities
//  5. [callgraph] - Per-package call graph construction
//  6. [merge] - Cross-package call resolution via the shared export index
//  7. [pipeline] - Job scheduling, retries and backpressure
//  8. [store] - Graph persistence (Neo4j, plus an in-memory test store)
//
// # Architecture
//
// The typical data flow through cratemap:
//
//	Registry Index
//	     ↓ resolve / fetch          (registry, archive)
//	IR Artifacts
//	     ↓ parse / demangle / build (ir, demangle, callgraph)
//	Package Call Graph
//	     ↓ merge / ingest           (merge, pipeline, store)
//	Ecosystem Graph in Neo4j
//
// Supporting packages: [cache] pluggable byte caches backing the registry
// client, [config] run configuration, [errors] coded errors with
// fatal/skip classification, [httputil] bounded retries, [observability]
// optional instrumentation hooks, [buildinfo] build metadata.
package pkg
