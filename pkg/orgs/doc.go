// Package orgs provides multi-tenant organization management for Gatehouse.
//
// # Overview
//
// This package manages organizations (tenant boundaries) and memberships, the
// role+status binding between a principal and an organization.
//
// # Roles
//
// Membership roles form an ordered set:
//
//	member < protocol_author < admin < owner
//
// Authorization predicates compare roles with Role.AtLeast rather than string
// equality, so future roles can be inserted into the ordering without
// rewriting call sites. Only memberships with StatusActive participate in
// authorization decisions.
//
// # Ownership guard
//
// Any membership mutation that could leave an organization ownerless is
// refused: the last active owner can neither be demoted nor removed. This is
// the one ownership cycle that matters and is modeled as an explicit
// precondition in the mutation path, not a general cycle detector.
//
// # Transactions
//
// Services are built over a Querier, so the same code runs against the pool
// or inside a caller's transaction. The policy evaluator reads memberships
// through a transaction-bound service so evaluate-then-act observes a single
// consistent snapshot of the membership table.
//
// # Related Packages
//
//   - pkg/identity: Principals and system-level roles
//   - pkg/policy: The evaluator consuming membership snapshots
package orgs
