package policy

import (
	"context"

	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
)

// Operation represents an action a principal wants to perform on a resource
type Operation string

const (
	OperationRead   Operation = "read"
	OperationWrite  Operation = "write"
	OperationDelete Operation = "delete"
	OperationManage Operation = "manage"
)

// Valid reports whether the operation is a known operation
func (o Operation) Valid() bool {
	switch o {
	case OperationRead, OperationWrite, OperationDelete, OperationManage:
		return true
	}
	return false
}

// Lifecycle represents a resource's publication state
type Lifecycle string

const (
	LifecycleNone      Lifecycle = ""
	LifecycleDraft     Lifecycle = "draft"
	LifecyclePublished Lifecycle = "published"
)

// Resource describes the row a decision is being made about. Exactly one of
// OwnerPrincipalID and OrganizationID may be set; ownership is unambiguous by
// construction.
type Resource struct {
	// Table is the resource's table name as declared in the relationship model
	Table string `json:"table"`
	ID    int64  `json:"id,omitempty"`

	OwnerPrincipalID *int64 `json:"owner_principal_id,omitempty"`
	OrganizationID   *int64 `json:"organization_id,omitempty"`

	Lifecycle Lifecycle `json:"lifecycle,omitempty"`

	// Mutable reports whether the resource's own state still permits
	// deletion by its owner (e.g. a feedback item is self-deletable only
	// while pending)
	Mutable bool `json:"mutable,omitempty"`
}

// ReasonCode is a machine-readable explanation attached to every decision
type ReasonCode string

const (
	ReasonServiceBypass ReasonCode = "service_bypass"
	ReasonSystemAdmin   ReasonCode = "system_admin"
	ReasonOwner         ReasonCode = "owner"
	ReasonOrgRole       ReasonCode = "org_role"
	ReasonPublicRead    ReasonCode = "public_read"

	ReasonDeniedNoMembership    ReasonCode = "denied_no_membership"
	ReasonDeniedInsufficientRole ReasonCode = "denied_insufficient_role"
	ReasonDeniedAdminImmutable  ReasonCode = "denied_admin_immutable"
	ReasonDeniedImmutableState  ReasonCode = "denied_immutable_state"
	ReasonDeniedDefault         ReasonCode = "denied"
)

// Decision is the outcome of an evaluation. Denial is a normal, expected
// value; callers branch on Allowed rather than treating denial as an error.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
}

func allow(reason ReasonCode) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason ReasonCode) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// MembershipLookup supplies the membership snapshot a decision is based on.
// Implementations must be bound to the same transaction as the operation
// being authorized; orgs.PostgresService.WithQuerier satisfies this.
type MembershipLookup interface {
	ActiveMembership(ctx context.Context, orgID, principalID int64) (*orgs.Membership, error)
}
