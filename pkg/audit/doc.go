// Package audit provides the append-only record of sensitive actions.
//
// # Overview
//
// Audit records are written once and never updated: content fields are
// immutable after insert. The one exception is the optional principal
// back-reference, which the relationship model marks set-null — deleting a
// principal anonymizes the actor on their audit trail but preserves the
// record itself, because audit value outlives the individual account.
//
// # Event Types
//
// Authorization: authz.denied, authz.role_change
// Identity: identity.resolved, identity.deleted
// Membership: member.added, member.removed, member.role_change
// Migration: migration.stage, migration.rollback
package audit
