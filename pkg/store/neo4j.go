package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cratemap/cratemap/pkg/callgraph"
	"github.com/cratemap/cratemap/pkg/errors"
)

// Neo4jStore persists the ecosystem graph in Neo4j.
//
// Graph schema:
//
//	(:Package {name})
//	(:PackageVersion {name, version, key})
//	(:Function {id, name, module, signature_hash, mangled, demangled, exported, generic})
//	(:Symbol {name})                        // unresolved external call targets
//	(:Package)-[:HAS_VERSION]->(:PackageVersion)
//	(:PackageVersion)-[:DEPENDS_ON {constraint, resolved}]->(:PackageVersion)
//	(:PackageVersion)-[:DEFINES]->(:Function)
//	(:Function)-[:CALLS {kind, callee_symbol}]->(:Function|:Symbol)
//
// Indirect call sites are a self-loop CALLS relationship on the caller with
// kind 'indirect'; its count property records how many such sites the
// function body holds, since MERGE collapses them into one relationship.
//
// All writes for one batch run inside a single explicit transaction.
type Neo4jStore struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a store connected to the given bolt URI.
func NewNeo4j(uri, user, password string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreUnreachable, err, "create driver for %s", uri)
	}
	return &Neo4jStore{driver: driver}, nil
}

// Ping verifies connectivity to the store.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStoreUnreachable, err, "store unreachable")
	}
	return nil
}

// EnsureSchema creates the uniqueness constraints and lookup indexes the
// upsert queries rely on. Safe to call on every startup.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE CONSTRAINT package_name IF NOT EXISTS FOR (n:Package) REQUIRE n.name IS UNIQUE",
		"CREATE CONSTRAINT package_version_key IF NOT EXISTS FOR (n:PackageVersion) REQUIRE n.key IS UNIQUE",
		"CREATE CONSTRAINT function_id IF NOT EXISTS FOR (n:Function) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT symbol_name IF NOT EXISTS FOR (n:Symbol) REQUIRE n.name IS UNIQUE",
		"CREATE INDEX function_name IF NOT EXISTS FOR (n:Function) ON (n.name)",
	}
	for _, stmt := range stmts {
		if _, err := neo4j.ExecuteQuery(ctx, s.driver, stmt, nil, neo4j.EagerResultTransformer); err != nil {
			return errors.Wrap(errors.ErrCodeIngestion, err, "create schema")
		}
	}
	return nil
}

// Has reports whether the package version node already exists.
func (s *Neo4jStore) Has(ctx context.Context, name, version string) (bool, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver,
		"MATCH (pv:PackageVersion {key: $key}) RETURN count(pv) AS n",
		map[string]any{"key": name + "@" + version},
		neo4j.EagerResultTransformer)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeIngestion, err, "lookup %s@%s", name, version)
	}
	if len(result.Records) == 0 {
		return false, nil
	}
	n, _, err := neo4j.GetRecordValue[int64](result.Records[0], "n")
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeIngestion, err, "decode lookup result")
	}
	return n > 0, nil
}

// Exports returns the exported, demangled functions a previous run
// ingested for the given package version, keyed by qualified name.
func (s *Neo4jStore) Exports(ctx context.Context, name, version string) (map[string]callgraph.ID, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (pv:PackageVersion {key: $key})-[:DEFINES]->(f:Function)
		 WHERE f.exported AND f.demangled
		 RETURN f.name AS name, f.module AS module, f.signature_hash AS hash`,
		map[string]any{"key": name + "@" + version},
		neo4j.EagerResultTransformer)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeIngestion, err, "load exports of %s@%s", name, version)
	}

	exports := make(map[string]callgraph.ID, len(result.Records))
	for _, rec := range result.Records {
		fname, _, err := neo4j.GetRecordValue[string](rec, "name")
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeIngestion, err, "decode export record")
		}
		module, _, _ := neo4j.GetRecordValue[string](rec, "module")
		hash, _, _ := neo4j.GetRecordValue[string](rec, "hash")
		exports[fname] = callgraph.ID{
			Package: name,
			Version: version,
			Module:  module,
			Hash:    hash,
		}
	}
	return exports, nil
}

// Upsert ingests one batch inside a single write transaction: the package
// version becomes visible in full or not at all.
func (s *Neo4jStore) Upsert(ctx context.Context, b *Batch) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, step := range upsertSteps(b) {
			if len(step.params) > 0 || step.always {
				if _, err := tx.Run(ctx, step.cypher, map[string]any{"pv": b.Package + "@" + b.Version, "batch": step.params}); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeIngestion, err, "ingest %s@%s", b.Package, b.Version)
	}
	return nil
}

type upsertStep struct {
	cypher string
	params []map[string]any
	always bool
}

func upsertSteps(b *Batch) []upsertStep {
	deps := make([]map[string]any, 0, len(b.Dependencies))
	for _, d := range b.Dependencies {
		deps = append(deps, map[string]any{
			"name":       d.Name,
			"constraint": d.Constraint,
			"resolved":   d.Resolved,
			"key":        d.Name + "@" + d.Resolved,
		})
	}

	funcs := make([]map[string]any, 0, len(b.Functions))
	for _, fn := range b.Functions {
		funcs = append(funcs, map[string]any{
			"id":        fn.ID.String(),
			"name":      fn.Name(),
			"module":    fn.ID.Module,
			"hash":      fn.ID.Hash,
			"mangled":   fn.Mangled,
			"demangled": fn.Demangled,
			"exported":  fn.Exported,
			"generic":   fn.Generic,
		})
	}

	var direct, external []map[string]any
	indirectSites := make(map[string]int)
	for _, e := range b.Edges {
		switch e.Kind {
		case callgraph.Direct:
			direct = append(direct, map[string]any{
				"caller": e.Caller.String(),
				"callee": e.Callee.String(),
				"symbol": e.Symbol,
			})
		case callgraph.External:
			external = append(external, map[string]any{
				"caller": e.Caller.String(),
				"symbol": e.Symbol,
			})
		case callgraph.Indirect:
			// One MERGEd self-loop per caller; the count property keeps
			// per-site multiplicity that the single relationship cannot.
			indirectSites[e.Caller.String()]++
		}
	}
	indirect := make([]map[string]any, 0, len(indirectSites))
	for caller, n := range indirectSites {
		indirect = append(indirect, map[string]any{
			"caller": caller,
			"count":  n,
		})
	}

	return []upsertStep{
		{
			cypher: `MERGE (p:Package {name: $batch[0].name})
			 MERGE (pv:PackageVersion {key: $pv})
			 SET pv.name = $batch[0].name, pv.version = $batch[0].version
			 MERGE (p)-[:HAS_VERSION]->(pv)`,
			params: []map[string]any{{"name": b.Package, "version": b.Version}},
			always: true,
		},
		{
			cypher: `UNWIND $batch AS row
			 MATCH (pv:PackageVersion {key: $pv})
			 MERGE (dp:Package {name: row.name})
			 MERGE (dpv:PackageVersion {key: row.key})
			 SET dpv.name = row.name, dpv.version = row.resolved
			 MERGE (dp)-[:HAS_VERSION]->(dpv)
			 MERGE (pv)-[r:DEPENDS_ON]->(dpv)
			 SET r.constraint = row.constraint, r.resolved = row.resolved`,
			params: deps,
		},
		{
			cypher: `UNWIND $batch AS row
			 MATCH (pv:PackageVersion {key: $pv})
			 MERGE (f:Function {id: row.id})
			 SET f.name = row.name, f.module = row.module,
			     f.signature_hash = row.hash, f.mangled = row.mangled,
			     f.demangled = row.demangled,
			     f.exported = row.exported, f.generic = row.generic
			 MERGE (pv)-[:DEFINES]->(f)`,
			params: funcs,
		},
		{
			cypher: `UNWIND $batch AS row
			 MERGE (caller:Function {id: row.caller})
			 MERGE (callee:Function {id: row.callee})
			 MERGE (caller)-[r:CALLS {kind: 'direct', callee_symbol: row.symbol}]->(callee)`,
			params: direct,
		},
		{
			cypher: `UNWIND $batch AS row
			 MERGE (caller:Function {id: row.caller})
			 MERGE (s:Symbol {name: row.symbol})
			 MERGE (caller)-[r:CALLS {kind: 'external', callee_symbol: row.symbol}]->(s)`,
			params: external,
		},
		{
			cypher: `UNWIND $batch AS row
			 MERGE (caller:Function {id: row.caller})
			 MERGE (caller)-[r:CALLS {kind: 'indirect'}]->(caller)
			 SET r.callee_symbol = '', r.count = row.count`,
			params: indirect,
		},
	}
}

// Close releases the underlying driver resources.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ Store = (*Neo4jStore)(nil)
