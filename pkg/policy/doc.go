// Package policy implements the row-level authorization engine: for a
// (principal, resource, operation) triple it returns an allow/deny decision
// with a machine-readable reason code.
//
// # Decision algorithm
//
// Evaluation is ordered and the first matching step wins:
//
//  1. Service bypass: the reserved backend service principal is allowed
//     unconditionally, so background jobs can operate without an
//     organization or ownership context.
//  2. System-admin override: system admins may read and manage anything.
//     Write and delete are allowed except on tables the relationship model
//     marks admin-immutable; those records stay admin-read-only to preserve
//     an untamperable trail.
//  3. Ownership: the owning principal may read and write a personal record,
//     and delete it while the record's own state still permits deletion.
//  4. Organization membership: for organization-owned records, an active
//     membership is required. Published records are readable by any active
//     role; non-published reads and content writes require at least
//     protocol_author; membership and settings management, deletes, and
//     changes to published records require at least admin. Role comparison
//     uses the ordered set in pkg/orgs, never string equality.
//  5. Public fallback: a small enumerated set of tables (the organization
//     directory, published artifacts, shared reference data) is readable by
//     any principal, including one with no membership.
//  6. Otherwise: deny.
//
// # Purity and transactions
//
// Evaluate has no side effects beyond a metrics increment and is safe to call
// many times per request. Denial is a normal outcome expressed as a Decision
// value, not an error; the only hard error for a well-formed call is
// ErrIdentityNotResolved. Callers must run Evaluate and the subsequent write
// in the same transaction, with the membership lookup bound to that
// transaction, so a concurrent role change cannot slip between check and act.
package policy
