package orgs

import (
	"errors"
	"time"
)

// PlanTier represents subscription plan tiers. Tiers are opaque to the
// authorization model; they exist for billing and quota layers.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// OrgStatus represents organization status
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
)

// Organization represents a tenant boundary owning shared resources
type Organization struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	PlanTier    PlanTier  `json:"plan_tier"`
	Status      OrgStatus `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role represents a membership role within an organization. Roles form an
// ordered set; compare with AtLeast, never string equality.
type Role string

const (
	RoleMember         Role = "member"
	RoleProtocolAuthor Role = "protocol_author"
	RoleAdmin          Role = "admin"
	RoleOwner          Role = "owner"
)

var roleRank = map[Role]int{
	RoleMember:         1,
	RoleProtocolAuthor: 2,
	RoleAdmin:          3,
	RoleOwner:          4,
}

// Valid reports whether the role is a known role
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether the role ranks at or above the given role. Unknown
// roles rank below everything.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// MemberStatus represents a membership's lifecycle status
type MemberStatus string

const (
	StatusPending   MemberStatus = "pending"
	StatusActive    MemberStatus = "active"
	StatusSuspended MemberStatus = "suspended"
)

// Membership binds a principal to an organization with a role and status.
// At most one membership exists per (organization, principal) pair.
type Membership struct {
	ID             int64        `json:"id"`
	OrganizationID int64        `json:"organization_id"`
	PrincipalID    int64        `json:"principal_id"`
	Role           Role         `json:"role"`
	Status         MemberStatus `json:"status"`
	InvitedBy      *int64       `json:"invited_by,omitempty"`
	JoinedAt       time.Time    `json:"joined_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Invitation represents an invitation to join an organization
type Invitation struct {
	ID         int64      `json:"id"`
	OrgID      int64      `json:"org_id"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Token      string     `json:"token,omitempty"`
	InvitedBy  int64      `json:"invited_by"`
	InvitedAt  time.Time  `json:"invited_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}

// UpdateOrgRequest represents request to update an organization
type UpdateOrgRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ErrLastOwner is returned when a mutation would leave an organization with
// no active owner
var ErrLastOwner = errors.New("cannot remove or demote the last owner of an organization")

// ErrMemberExists is returned when adding a member that already has a
// membership row for the organization
var ErrMemberExists = errors.New("member already exists")

// ErrMemberNotFound is returned when the (organization, principal) pair has
// no membership row
var ErrMemberNotFound = errors.New("member not found")
