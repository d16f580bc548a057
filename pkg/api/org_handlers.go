package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

// OrgHandlers serves organization, membership, and invitation endpoints.
// Mutations evaluate authorization and apply the write inside one
// transaction, so the membership snapshot the decision was based on is the
// snapshot the write sees.
type OrgHandlers struct {
	db        *sql.DB
	orgs      *orgs.PostgresService
	evaluator *policy.Evaluator
	deleter   *postgres.CascadeDeleter
	audit     *audit.DBLogger
	log       *logrus.Logger
}

// NewOrgHandlers creates organization handlers
func NewOrgHandlers(db *sql.DB, orgService *orgs.PostgresService, evaluator *policy.Evaluator,
	deleter *postgres.CascadeDeleter, auditLog *audit.DBLogger, log *logrus.Logger) *OrgHandlers {
	return &OrgHandlers{
		db:        db,
		orgs:      orgService,
		evaluator: evaluator,
		deleter:   deleter,
		audit:     auditLog,
		log:       log,
	}
}

// RegisterRoutes registers organization routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/orgs", h.Create).Methods("POST")
	router.HandleFunc("/v1/orgs", h.List).Methods("GET")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}", h.Get).Methods("GET")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}", h.Update).Methods("PUT")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}", h.Delete).Methods("DELETE")

	router.HandleFunc("/v1/orgs/{id:[0-9]+}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}/members/{principal_id:[0-9]+}", h.UpdateMember).Methods("PUT")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}/members/{principal_id:[0-9]+}", h.RemoveMember).Methods("DELETE")

	router.HandleFunc("/v1/orgs/{id:[0-9]+}/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/v1/orgs/{id:[0-9]+}/invitations/{invitation_id:[0-9]+}", h.RevokeInvitation).Methods("DELETE")
	router.HandleFunc("/v1/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")
}

// httpError carries a status code out of a transaction closure
type httpError struct {
	status  int
	message string
}

func (e *httpError) Error() string { return e.message }

func httpErrorf(status int, format string, args ...interface{}) error {
	return &httpError{status: status, message: fmt.Sprintf(format, args...)}
}

// denialError carries a policy denial out of a transaction closure so the
// audit record is written after the rollback, not inside it
type denialError struct {
	res      policy.Resource
	op       policy.Operation
	decision policy.Decision
}

func (e *denialError) Error() string { return string(e.decision.Reason) }

// writeTxError maps a transaction closure error onto an HTTP response
func (h *OrgHandlers) writeTxError(w http.ResponseWriter, r *http.Request, err error) {
	var he *httpError
	var de *denialError
	switch {
	case errors.As(err, &de):
		h.auditDenial(r, de.res, de.op, de.decision)
		writeError(w, http.StatusForbidden, de.Error())
	case errors.As(err, &he):
		writeError(w, he.status, he.message)
	case errors.Is(err, orgs.ErrMemberExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orgs.ErrLastOwner):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orgs.ErrMemberNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).Error("organization request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// authorizeInTx runs an organization-management decision against the
// transaction's membership snapshot. A denial rolls the surrounding
// transaction back.
func (h *OrgHandlers) authorizeInTx(r *http.Request, tx *sql.Tx, res policy.Resource, op policy.Operation) error {
	principal := GetPrincipal(r.Context())
	evaluator := h.evaluator.WithMembershipLookup(h.orgs.WithQuerier(tx))
	decision, err := evaluator.Evaluate(r.Context(), principal, res, op)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &denialError{res: res, op: op, decision: decision}
	}
	return nil
}

func (h *OrgHandlers) auditDenial(r *http.Request, res policy.Resource, op policy.Operation, decision policy.Decision) {
	principal := GetPrincipal(r.Context())
	record := &audit.Record{
		EventType:      audit.EventTypeAuthzDenied,
		Status:         audit.EventStatusDenied,
		PrincipalID:    &principal.ID,
		OrganizationID: res.OrganizationID,
		ResourceTable:  res.Table,
		Message:        fmt.Sprintf("%s denied: %s", op, decision.Reason),
	}
	if err := h.audit.Log(r.Context(), record); err != nil {
		h.log.WithError(err).Warn("failed to write audit record for denial")
	}
}

func (h *OrgHandlers) auditMemberEvent(r *http.Request, eventType audit.EventType, orgID, principalID int64, message string) {
	actor := GetPrincipal(r.Context())
	record := &audit.Record{
		EventType:      eventType,
		Status:         audit.EventStatusSuccess,
		PrincipalID:    &actor.ID,
		OrganizationID: &orgID,
		ResourceTable:  "memberships",
		ResourceID:     fmt.Sprintf("%d", principalID),
		Message:        message,
	}
	if err := h.audit.Log(r.Context(), record); err != nil {
		h.log.WithError(err).Warn("failed to write membership audit record")
	}
}

func orgIDVar(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

// Create handles POST /v1/orgs. The creator becomes the organization's first
// active owner in the same transaction.
func (h *OrgHandlers) Create(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	org := &orgs.Organization{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
	}
	err := postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		txOrgs := h.orgs.WithQuerier(tx)
		if err := txOrgs.CreateOrganization(r.Context(), org); err != nil {
			return err
		}
		return txOrgs.AddMember(r.Context(), org.ID, principal.ID, orgs.RoleOwner, orgs.StatusActive, nil)
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}

	h.auditMemberEvent(r, audit.EventTypeMemberAdded, org.ID, principal.ID, "organization created, creator added as owner")
	writeJSON(w, http.StatusCreated, org)
}

// List handles GET /v1/orgs, returning the caller's organizations
func (h *OrgHandlers) List(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	list, err := h.orgs.ListOrganizationsFor(r.Context(), principal.ID)
	if err != nil {
		h.log.WithError(err).Error("failed to list organizations")
		writeError(w, http.StatusInternalServerError, "failed to list organizations")
		return
	}
	if list == nil {
		list = []*orgs.Organization{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Get handles GET /v1/orgs/{id}. Organizations are publicly readable.
func (h *OrgHandlers) Get(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	res := policy.Resource{Table: "organizations", ID: orgID, OrganizationID: &orgID, Lifecycle: policy.LifecyclePublished}
	decision, err := h.evaluator.Evaluate(r.Context(), GetPrincipal(r.Context()), res, policy.OperationRead)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	org, err := h.orgs.GetOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// Update handles PUT /v1/orgs/{id}
func (h *OrgHandlers) Update(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req orgs.UpdateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "organizations", ID: orgID, OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		return h.orgs.WithQuerier(tx).UpdateOrganization(r.Context(), orgID, &req)
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /v1/orgs/{id}. The cascade deleter enforces the
// relationship model's per-edge delete policies.
func (h *OrgHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	res := policy.Resource{Table: "organizations", ID: orgID, OrganizationID: &orgID}
	decision, err := h.evaluator.Evaluate(r.Context(), GetPrincipal(r.Context()), res, policy.OperationDelete)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Allowed {
		h.auditDenial(r, res, policy.OperationDelete, decision)
		writeError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	if err := h.deleter.DeleteOrganization(r.Context(), orgID); err != nil {
		var violation *postgres.ConstraintViolationError
		switch {
		case errors.As(err, &violation):
			writeError(w, http.StatusConflict,
				fmt.Sprintf("cannot delete: %d row(s) in %s still reference this organization",
					violation.Rows, violation.ChildTable))
		case errors.Is(err, postgres.ErrParentNotFound):
			writeError(w, http.StatusNotFound, "organization not found")
		default:
			h.log.WithError(err).Error("failed to delete organization")
			writeError(w, http.StatusInternalServerError, "failed to delete organization")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers handles GET /v1/orgs/{id}/members. Membership rosters are
// visible to the organization's own members only.
func (h *OrgHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	membership, err := h.orgs.ActiveMembership(r.Context(), orgID, principal.ID)
	if err != nil {
		h.log.WithError(err).Error("failed to look up membership")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if membership == nil && principal.Role != identity.SystemRoleAdmin && !principal.IsService {
		writeError(w, http.StatusForbidden, "not a member of this organization")
		return
	}

	members, err := h.orgs.ListMembers(r.Context(), orgID)
	if err != nil {
		h.log.WithError(err).Error("failed to list members")
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	if members == nil {
		members = []*orgs.Membership{}
	}
	writeJSON(w, http.StatusOK, members)
}

// AddMember handles POST /v1/orgs/{id}/members
func (h *OrgHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "memberships", OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		return h.orgs.WithQuerier(tx).AddMember(r.Context(), orgID, req.PrincipalID,
			orgs.Role(req.Role), orgs.StatusActive, &principal.ID)
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}

	h.auditMemberEvent(r, audit.EventTypeMemberAdded, orgID, req.PrincipalID,
		fmt.Sprintf("member added with role %s", req.Role))
	w.WriteHeader(http.StatusCreated)
}

// UpdateMember handles PUT /v1/orgs/{id}/members/{principal_id}, covering
// role changes and status changes
func (h *OrgHandlers) UpdateMember(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	memberID, err := strconv.ParseInt(mux.Vars(r)["principal_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal id")
		return
	}

	var req UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" && req.Status == "" {
		writeError(w, http.StatusBadRequest, "role or status is required")
		return
	}

	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "memberships", OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		txOrgs := h.orgs.WithQuerier(tx)
		if req.Role != "" {
			if err := txOrgs.UpdateMemberRole(r.Context(), orgID, memberID, orgs.Role(req.Role)); err != nil {
				return err
			}
		}
		if req.Status != "" {
			if err := txOrgs.UpdateMemberStatus(r.Context(), orgID, memberID, orgs.MemberStatus(req.Status)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}

	if req.Role != "" {
		h.auditMemberEvent(r, audit.EventTypeMemberRoleChange, orgID, memberID,
			fmt.Sprintf("member role changed to %s", req.Role))
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /v1/orgs/{id}/members/{principal_id}
func (h *OrgHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	memberID, err := strconv.ParseInt(mux.Vars(r)["principal_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal id")
		return
	}

	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "memberships", OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		return h.orgs.WithQuerier(tx).RemoveMember(r.Context(), orgID, memberID)
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}

	h.auditMemberEvent(r, audit.EventTypeMemberRemoved, orgID, memberID, "member removed")
	w.WriteHeader(http.StatusNoContent)
}

// CreateInvitation handles POST /v1/orgs/{id}/invitations
func (h *OrgHandlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	invitation := &orgs.Invitation{
		OrgID:     orgID,
		Email:     req.Email,
		Role:      orgs.Role(req.Role),
		InvitedBy: principal.ID,
	}
	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "org_invitations", OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		return h.orgs.WithQuerier(tx).CreateInvitation(r.Context(), invitation)
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invitation)
}

// RevokeInvitation handles DELETE /v1/orgs/{id}/invitations/{invitation_id}
func (h *OrgHandlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, err := orgIDVar(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	invitationID, err := strconv.ParseInt(mux.Vars(r)["invitation_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invitation id")
		return
	}

	err = postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		res := policy.Resource{Table: "org_invitations", OrganizationID: &orgID}
		if err := h.authorizeInTx(r, tx, res, policy.OperationWrite); err != nil {
			return err
		}
		if err := h.orgs.WithQuerier(tx).RevokeInvitation(r.Context(), invitationID); err != nil {
			return httpErrorf(http.StatusNotFound, "%s", err.Error())
		}
		return nil
	})
	if err != nil {
		h.writeTxError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcceptInvitation handles POST /v1/invitations/{token}/accept. The token is
// the authorization: any resolved principal holding a live token may redeem
// it.
func (h *OrgHandlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	token := mux.Vars(r)["token"]

	err := postgres.WithTx(r.Context(), h.db, func(tx *sql.Tx) error {
		return h.orgs.WithQuerier(tx).AcceptInvitation(r.Context(), token, principal.ID)
	})
	if err != nil {
		if errors.Is(err, orgs.ErrLastOwner) || errors.Is(err, orgs.ErrMemberExists) {
			h.writeTxError(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
