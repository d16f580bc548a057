package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

// PrincipalHandlers serves principal profile and lifecycle endpoints
type PrincipalHandlers struct {
	resolver  *identity.Resolver
	evaluator *policy.Evaluator
	deleter   *postgres.CascadeDeleter
	audit     *audit.DBLogger
	log       *logrus.Logger
}

// NewPrincipalHandlers creates principal handlers
func NewPrincipalHandlers(resolver *identity.Resolver, evaluator *policy.Evaluator,
	deleter *postgres.CascadeDeleter, auditLog *audit.DBLogger, log *logrus.Logger) *PrincipalHandlers {
	return &PrincipalHandlers{
		resolver:  resolver,
		evaluator: evaluator,
		deleter:   deleter,
		audit:     auditLog,
		log:       log,
	}
}

// RegisterRoutes registers principal routes
func (h *PrincipalHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/me", h.GetMe).Methods("GET")
	router.HandleFunc("/v1/me", h.UpdateMe).Methods("PUT")
	router.HandleFunc("/v1/principals/{id:[0-9]+}/role", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/v1/principals/{id:[0-9]+}", h.Delete).Methods("DELETE")
}

// GetMe handles GET /v1/me
func (h *PrincipalHandlers) GetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GetPrincipal(r.Context()))
}

// UpdateMe handles PUT /v1/me. Profile fields are self-service; the system
// role is not reachable through this path.
func (h *PrincipalHandlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := identity.ProfileUpdate{Email: req.Email, FullName: req.FullName}
	if err := h.resolver.UpdateOwnProfile(r.Context(), principal.ID, update); err != nil {
		h.log.WithError(err).Error("failed to update profile")
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	updated, err := h.resolver.GetPrincipal(r.Context(), principal.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UpdateRole handles PUT /v1/principals/{id}/role. Only a system admin may
// change roles, and never their own.
func (h *PrincipalHandlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	targetID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal id")
		return
	}
	if targetID == principal.ID {
		writeError(w, http.StatusForbidden, "cannot change own role")
		return
	}

	var req RoleUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := policy.Resource{Table: "principals", ID: targetID}
	decision, err := h.evaluator.Evaluate(r.Context(), principal, res, policy.OperationManage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	if err := h.resolver.UpdateRole(r.Context(), targetID, identity.SystemRole(req.Role)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record := &audit.Record{
		EventType:     audit.EventTypeAuthzRoleChange,
		Status:        audit.EventStatusSuccess,
		PrincipalID:   &principal.ID,
		ResourceTable: "principals",
		ResourceID:    fmt.Sprintf("%d", targetID),
		Message:       fmt.Sprintf("system role changed to %s", req.Role),
	}
	if err := h.audit.Log(r.Context(), record); err != nil {
		h.log.WithError(err).Warn("failed to write audit record for role change")
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /v1/principals/{id}. The cascade deleter applies the
// relationship model's per-edge policies: a restrict edge with live children
// blocks the whole delete with 409.
func (h *PrincipalHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	targetID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid principal id")
		return
	}

	res := policy.Resource{Table: "principals", ID: targetID}
	decision, err := h.evaluator.Evaluate(r.Context(), principal, res, policy.OperationDelete)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	if err := h.deleter.DeletePrincipal(r.Context(), targetID); err != nil {
		var violation *postgres.ConstraintViolationError
		switch {
		case errors.As(err, &violation):
			writeError(w, http.StatusConflict,
				fmt.Sprintf("cannot delete: %d row(s) in %s still reference this principal",
					violation.Rows, violation.ChildTable))
		case errors.Is(err, postgres.ErrParentNotFound):
			writeError(w, http.StatusNotFound, "principal not found")
		default:
			h.log.WithError(err).Error("failed to delete principal")
			writeError(w, http.StatusInternalServerError, "failed to delete principal")
		}
		return
	}

	record := &audit.Record{
		EventType:     audit.EventTypeIdentityDeleted,
		Status:        audit.EventStatusSuccess,
		PrincipalID:   &principal.ID,
		ResourceTable: "principals",
		ResourceID:    fmt.Sprintf("%d", targetID),
		Message:       "principal deleted",
	}
	if err := h.audit.Log(r.Context(), record); err != nil {
		h.log.WithError(err).Warn("failed to write audit record for principal delete")
	}

	w.WriteHeader(http.StatusNoContent)
}
