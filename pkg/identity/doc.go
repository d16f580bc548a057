// Package identity maps opaque external identities to internal principal
// records.
//
// The resolver sits at the identity boundary: an external authentication
// collaborator has already verified the caller and hands over an opaque
// identity reference. This package does not parse or validate tokens; it only
// answers "which principal is this?" and creates the principal on first sight.
//
// Resolution is idempotent and safe under concurrent first-sight calls for the
// same external reference: the principals table carries a uniqueness
// constraint on external_ref and the insert is an upsert-on-conflict, so two
// racing resolves converge on the same row without application-level locking.
//
// Because the external_ref -> principal id mapping never changes once
// established, resolved ids are cached in a small in-process LRU to keep the
// hot path off the database.
package identity
