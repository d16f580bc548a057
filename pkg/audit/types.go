package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzDenied     EventType = "authz.denied"
	EventTypeAuthzRoleChange EventType = "authz.role_change"

	// Identity events
	EventTypeIdentityResolved EventType = "identity.resolved"
	EventTypeIdentityDeleted  EventType = "identity.deleted"

	// Membership events
	EventTypeMemberAdded      EventType = "member.added"
	EventTypeMemberRemoved    EventType = "member.removed"
	EventTypeMemberRoleChange EventType = "member.role_change"

	// Migration pipeline events
	EventTypeMigrationStage    EventType = "migration.stage"
	EventTypeMigrationRollback EventType = "migration.rollback"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Record represents a single append-only audit entry. Content fields are
// immutable once written; only PrincipalID may later become null via the
// set-null delete policy.
type Record struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// PrincipalID is the optional actor back-reference; null after the
	// referenced principal has been deleted
	PrincipalID    *int64 `json:"principal_id,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	ResourceTable string `json:"resource_table,omitempty"`
	ResourceID    string `json:"resource_id,omitempty"`

	Message string `json:"message,omitempty"`
}

// QueryFilter selects audit records for listing
type QueryFilter struct {
	StartTime      *time.Time
	EndTime        *time.Time
	PrincipalID    *int64
	OrganizationID *int64
	EventTypes     []EventType
	Limit          int
}
