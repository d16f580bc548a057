// Package migrate implements the staged referential-integrity migration
// pipeline that brings a live store's constraints in line with the
// relationship model.
//
// # Stages
//
// The pipeline is five strictly ordered, separately invocable, idempotent
// stages plus an exact-inverse rollback:
//
//  1. Validate — read-only orphan counts per relationship; any orphan blocks.
//  2. Reconcile — resolve heterogeneous legacy keys into typed columns.
//  3. Dedupe — detect duplicates, then install uniqueness constraints.
//  4. Install — add foreign keys one relationship at a time in dependency order.
//  5. Verify — assert the installed catalog matches the model exactly.
//
// Every stage produces a machine-readable Report (one row per relationship)
// and blockers are typed PipelineError values carrying the relationship name
// and offending row count, each category mapping to a distinct exit code.
// The pipeline never resolves a blocker destructively: orphan cleanup and
// duplicate resolution are explicit operator actions.
package migrate
