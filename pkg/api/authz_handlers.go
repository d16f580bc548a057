package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
)

// AuthzHandlers serves the authorization decision endpoint
type AuthzHandlers struct {
	evaluator *policy.Evaluator
	audit     *audit.DBLogger
	log       *logrus.Logger
}

// NewAuthzHandlers creates authorization handlers
func NewAuthzHandlers(evaluator *policy.Evaluator, auditLog *audit.DBLogger, log *logrus.Logger) *AuthzHandlers {
	return &AuthzHandlers{evaluator: evaluator, audit: auditLog, log: log}
}

// RegisterRoutes registers authorization routes
func (h *AuthzHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/authorize", h.Authorize).Methods("POST")
}

// Authorize handles POST /v1/authorize. A denial is a 200 response with
// allowed=false; 4xx is reserved for requests the evaluator cannot decide.
func (h *AuthzHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resource.Table == "" {
		writeError(w, http.StatusBadRequest, "resource table is required")
		return
	}

	decision, err := h.evaluator.Evaluate(r.Context(), principal, req.Resource, req.Operation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !decision.Allowed {
		h.auditDenial(r, principal.ID, req, decision)
	}

	writeJSON(w, http.StatusOK, AuthorizeResponse{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
	})
}

func (h *AuthzHandlers) auditDenial(r *http.Request, principalID int64, req AuthorizeRequest, decision policy.Decision) {
	record := &audit.Record{
		EventType:      audit.EventTypeAuthzDenied,
		Status:         audit.EventStatusDenied,
		PrincipalID:    &principalID,
		OrganizationID: req.Resource.OrganizationID,
		ResourceTable:  req.Resource.Table,
		ResourceID:     fmt.Sprintf("%d", req.Resource.ID),
		Message:        fmt.Sprintf("%s denied: %s", req.Operation, decision.Reason),
	}
	if err := h.audit.Log(r.Context(), record); err != nil {
		h.log.WithError(err).Warn("failed to write audit record for denial")
	}
}
