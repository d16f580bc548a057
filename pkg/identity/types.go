package identity

import (
	"errors"
	"time"
)

// SystemRole is a principal's role at the system level, distinct from
// per-organization membership roles
type SystemRole string

const (
	SystemRoleMember SystemRole = "member"
	SystemRoleAdmin  SystemRole = "admin"
)

// ServiceExternalRef is the reserved external reference of the backend
// service principal used by background jobs. It is not issued by any
// identity provider.
const ServiceExternalRef = "gatehouse:service"

// Principal represents an authenticated actor
type Principal struct {
	ID          int64      `json:"id"`
	ExternalRef string     `json:"external_ref"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name,omitempty"`
	Role        SystemRole `json:"role"`
	IsService   bool       `json:"is_service"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ErrIdentityNotResolved is returned for empty or malformed external identity
// references. An unknown but well-formed reference is not an error: first-sight
// resolution creates the principal.
var ErrIdentityNotResolved = errors.New("identity not resolved")

// ProfileUpdate carries the self-service editable profile fields. The system
// role is deliberately absent: role changes go through UpdateRole, which has
// its own authorization predicate.
type ProfileUpdate struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}
