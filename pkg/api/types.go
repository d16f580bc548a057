package api

import (
	"encoding/json"
	"net/http"

	"github.com/gatehouse-dev/gatehouse/pkg/policy"
)

// AuthorizeRequest is the body of POST /v1/authorize
type AuthorizeRequest struct {
	Operation policy.Operation `json:"operation"`
	Resource  policy.Resource  `json:"resource"`
}

// AuthorizeResponse is the decision surface's reply: a boolean plus a
// machine-readable reason code. Denial is a 200 with allowed=false, never an
// HTTP error, because it is an expected outcome callers branch on.
type AuthorizeResponse struct {
	Allowed bool              `json:"allowed"`
	Reason  policy.ReasonCode `json:"reason"`
}

// ProfileUpdateRequest is the body of PUT /v1/me
type ProfileUpdateRequest struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// RoleUpdateRequest is the body of PUT /v1/principals/{id}/role
type RoleUpdateRequest struct {
	Role string `json:"role"`
}

// CreateOrgRequest is the body of POST /v1/orgs
type CreateOrgRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// AddMemberRequest is the body of POST /v1/orgs/{id}/members
type AddMemberRequest struct {
	PrincipalID int64  `json:"principal_id"`
	Role        string `json:"role"`
}

// UpdateMemberRequest is the body of PUT /v1/orgs/{id}/members/{principal_id}
type UpdateMemberRequest struct {
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// InviteRequest is the body of POST /v1/orgs/{id}/invitations
type InviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// errorResponse is the uniform error body
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
