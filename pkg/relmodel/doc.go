// Package relmodel defines the declarative ownership model for the Gatehouse
// data store: which child tables reference which parent tables, and what
// happens to child rows when the parent row is deleted.
//
// # Overview
//
// Every owning relationship between entity types is described by exactly one
// Relationship entry carrying a DeletePolicy:
//
//	PolicyCascade  - deleting the parent removes the child rows
//	PolicySetNull  - deleting the parent nulls the child's reference column
//	PolicyRestrict - deleting the parent is refused while child rows exist
//
// The model is immutable once constructed and is the single source of truth
// for two consumers: the policy evaluator (pkg/policy), which uses it to
// decide what "owned by" means at runtime, and the migration pipeline
// (pkg/migrate), which uses it as the authoritative list of foreign-key and
// uniqueness constraints to install.
//
// # Totality
//
// PolicyFor returns an error for any (child, parent) pair not present in the
// model. There is no silent default policy; a missing entry is a build error
// surfaced by the migration pipeline before anything touches the store.
//
// # Versioned artifacts
//
// The compiled-in table (Default) describes the current schema. Load reads a
// versioned JSON artifact with the same shape so operators can pin a model
// revision when running the migration pipeline against older stores.
package relmodel
