// Package postgres provides PostgreSQL connection management and the
// model-driven cascade deleter.
//
// # Connections
//
// ConnectionManager holds the primary pool plus optional read replicas with
// round-robin selection. Anything that must observe its own writes uses
// Primary(); read-only listing may use Replica().
//
// # Cascade Deletes
//
// CascadeDeleter removes a parent row (principal or organization) by applying
// the relationship model's delete policies inside one transaction: restrict
// relationships are checked before any mutation, then set-null updates run,
// then cascade deletes, then the parent row itself. A blocked or failed
// delete rolls back completely.
package postgres
