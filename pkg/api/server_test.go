package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/pkg/audit"
	"github.com/gatehouse-dev/gatehouse/pkg/identity"
	"github.com/gatehouse-dev/gatehouse/pkg/orgs"
	"github.com/gatehouse-dev/gatehouse/pkg/policy"
	"github.com/gatehouse-dev/gatehouse/pkg/relmodel"
	"github.com/gatehouse-dev/gatehouse/pkg/storage/postgres"
)

func setupAPI(t *testing.T) (*sql.DB, http.Handler) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// One connection keeps every query on the same in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE principals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_ref TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL,
			email TEXT,
			full_name TEXT,
			role TEXT NOT NULL DEFAULT 'member',
			is_service BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			display_name TEXT,
			description TEXT,
			plan_tier TEXT NOT NULL DEFAULT 'free',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE memberships (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			principal_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			invited_by INTEGER,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (organization_id, principal_id)
		);
		CREATE TABLE org_invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			org_id INTEGER NOT NULL,
			email TEXT NOT NULL,
			role TEXT NOT NULL,
			token TEXT NOT NULL,
			invited_by INTEGER NOT NULL,
			invited_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			accepted_at TIMESTAMP,
			accepted_by INTEGER,
			UNIQUE (org_id, email)
		);
		CREATE TABLE audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			principal_id INTEGER,
			organization_id INTEGER,
			resource_table TEXT,
			resource_id TEXT,
			message TEXT
		);
		CREATE TABLE uploaded_artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uploader_id INTEGER NOT NULL,
			name TEXT
		);
	`)
	require.NoError(t, err)

	model, err := relmodel.New("api-test", []relmodel.Relationship{
		{
			Name:       "membership_principal",
			ChildTable: "memberships", ChildColumn: "principal_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy: relmodel.PolicyCascade,
		},
		{
			Name:       "membership_organization",
			ChildTable: "memberships", ChildColumn: "organization_id",
			ParentTable: "organizations", ParentColumn: "id",
			Policy: relmodel.PolicyCascade,
		},
		{
			Name:       "audit_actor",
			ChildTable: "audit_records", ChildColumn: "principal_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy: relmodel.PolicySetNull,
		},
		{
			Name:       "upload_credit",
			ChildTable: "uploaded_artifacts", ChildColumn: "uploader_id",
			ParentTable: "principals", ParentColumn: "id",
			Policy: relmodel.PolicyRestrict, AdminImmutable: true,
		},
	})
	require.NoError(t, err)

	resolver, err := identity.NewResolver(db, 0)
	require.NoError(t, err)
	deleter, err := postgres.NewCascadeDeleter(db, model)
	require.NoError(t, err)
	auditLog, err := audit.NewDBLogger(db)
	require.NoError(t, err)

	orgSvc := orgs.NewPostgresService(db)
	log := logrus.New()
	log.SetOutput(io.Discard)

	server := NewServer(ServerDeps{
		DB:        db,
		Resolver:  resolver,
		Evaluator: policy.NewEvaluator(model, orgSvc),
		Orgs:      orgSvc,
		Deleter:   deleter,
		Audit:     auditLog,
		Log:       log,
	})
	return db, server.Handler()
}

func doRequest(t *testing.T, handler http.Handler, method, path, externalRef string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if externalRef != "" {
		req.Header.Set(ExternalIDHeader, externalRef)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// resolvePrincipal returns the principal id the middleware assigns to an
// external reference
func resolvePrincipal(t *testing.T, handler http.Handler, externalRef string) int64 {
	t.Helper()
	rec := doRequest(t, handler, http.MethodGet, "/v1/me", externalRef, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p identity.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.ID
}

func promoteToAdmin(t *testing.T, db *sql.DB, principalID int64) {
	t.Helper()
	_, err := db.Exec("UPDATE principals SET role = 'admin' WHERE id = ?", principalID)
	require.NoError(t, err)
}

func TestMissingIdentityHeaderRejected(t *testing.T) {
	_, handler := setupAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMalformedIdentityRejected(t *testing.T) {
	_, handler := setupAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/v1/me", identity.ServiceExternalRef, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetMeResolvesOnFirstSight(t *testing.T) {
	db, handler := setupAPI(t)

	rec := doRequest(t, handler, http.MethodGet, "/v1/me", "auth0|alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var p identity.Principal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "auth0|alice", p.ExternalRef)
	assert.Equal(t, identity.SystemRoleMember, p.Role)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM principals").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAuthorizeOwnerAllowed(t *testing.T) {
	_, handler := setupAPI(t)
	selfID := resolvePrincipal(t, handler, "auth0|alice")

	rec := doRequest(t, handler, http.MethodPost, "/v1/authorize", "auth0|alice", AuthorizeRequest{
		Operation: policy.OperationWrite,
		Resource:  policy.Resource{Table: "query_logs", ID: 1, OwnerPrincipalID: &selfID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
	assert.Equal(t, policy.ReasonOwner, resp.Reason)
}

func TestAuthorizeStrangerDeniedAndAudited(t *testing.T) {
	db, handler := setupAPI(t)
	otherID := resolvePrincipal(t, handler, "auth0|bob")

	rec := doRequest(t, handler, http.MethodPost, "/v1/authorize", "auth0|alice", AuthorizeRequest{
		Operation: policy.OperationWrite,
		Resource:  policy.Resource{Table: "query_logs", ID: 1, OwnerPrincipalID: &otherID},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthorizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
	assert.Equal(t, policy.ReasonDeniedDefault, resp.Reason)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM audit_records WHERE event_type = 'authz.denied'").Scan(&count))
	assert.Equal(t, 1, count, "denial must leave an audit record")
}

func TestAuthorizeRejectsUnknownOperation(t *testing.T) {
	_, handler := setupAPI(t)

	rec := doRequest(t, handler, http.MethodPost, "/v1/authorize", "auth0|alice", AuthorizeRequest{
		Operation: policy.Operation("transmogrify"),
		Resource:  policy.Resource{Table: "query_logs"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoleUpdateForbiddenForMember(t *testing.T) {
	_, handler := setupAPI(t)
	targetID := resolvePrincipal(t, handler, "auth0|bob")

	rec := doRequest(t, handler, http.MethodPut,
		fmt.Sprintf("/v1/principals/%d/role", targetID), "auth0|alice",
		RoleUpdateRequest{Role: "admin"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoleUpdateOnSelfForbidden(t *testing.T) {
	db, handler := setupAPI(t)
	selfID := resolvePrincipal(t, handler, "auth0|alice")
	promoteToAdmin(t, db, selfID)

	rec := doRequest(t, handler, http.MethodPut,
		fmt.Sprintf("/v1/principals/%d/role", selfID), "auth0|alice",
		RoleUpdateRequest{Role: "member"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeletePrincipalBlockedByRestrict(t *testing.T) {
	db, handler := setupAPI(t)
	adminID := resolvePrincipal(t, handler, "auth0|root")
	promoteToAdmin(t, db, adminID)
	targetID := resolvePrincipal(t, handler, "auth0|bob")

	_, err := db.Exec("INSERT INTO uploaded_artifacts (uploader_id, name) VALUES (?, 'a'), (?, 'b')",
		targetID, targetID)
	require.NoError(t, err)

	rec := doRequest(t, handler, http.MethodDelete,
		fmt.Sprintf("/v1/principals/%d", targetID), "auth0|root", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "uploaded_artifacts")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM principals WHERE id = ?", targetID).Scan(&count))
	assert.Equal(t, 1, count, "blocked delete must leave the principal in place")
}

func TestDeletePrincipalCascades(t *testing.T) {
	db, handler := setupAPI(t)
	adminID := resolvePrincipal(t, handler, "auth0|root")
	promoteToAdmin(t, db, adminID)
	targetID := resolvePrincipal(t, handler, "auth0|bob")

	_, err := db.Exec("INSERT INTO memberships (organization_id, principal_id, role, status) VALUES (1, ?, 'member', 'active')", targetID)
	require.NoError(t, err)

	rec := doRequest(t, handler, http.MethodDelete,
		fmt.Sprintf("/v1/principals/%d", targetID), "auth0|root", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM memberships WHERE principal_id = ?", targetID).Scan(&count))
	assert.Zero(t, count)

	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM audit_records WHERE event_type = 'identity.deleted'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDeletePrincipalForbiddenForMember(t *testing.T) {
	_, handler := setupAPI(t)
	targetID := resolvePrincipal(t, handler, "auth0|bob")

	rec := doRequest(t, handler, http.MethodDelete,
		fmt.Sprintf("/v1/principals/%d", targetID), "auth0|alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func createOrg(t *testing.T, handler http.Handler, externalRef, name string) *orgs.Organization {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/v1/orgs", externalRef, CreateOrgRequest{Name: name})
	require.Equal(t, http.StatusCreated, rec.Code)
	var org orgs.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &org))
	return &org
}

func TestCreateOrgMakesCreatorOwner(t *testing.T) {
	db, handler := setupAPI(t)
	creatorID := resolvePrincipal(t, handler, "auth0|alice")

	org := createOrg(t, handler, "auth0|alice", "Acme Rockets")
	assert.Equal(t, "acme-rockets", org.Slug)

	var role string
	require.NoError(t, db.QueryRow(
		"SELECT role FROM memberships WHERE organization_id = ? AND principal_id = ?",
		org.ID, creatorID).Scan(&role))
	assert.Equal(t, "owner", role)
}

func TestAddMemberRequiresOrgAdmin(t *testing.T) {
	_, handler := setupAPI(t)
	resolvePrincipal(t, handler, "auth0|alice")
	strangerTarget := resolvePrincipal(t, handler, "auth0|carol")
	org := createOrg(t, handler, "auth0|alice", "Acme")

	// A non-member cannot add members.
	rec := doRequest(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/orgs/%d/members", org.ID), "auth0|bob",
		AddMemberRequest{PrincipalID: strangerTarget, Role: "member"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The owner can.
	rec = doRequest(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/orgs/%d/members", org.ID), "auth0|alice",
		AddMemberRequest{PrincipalID: strangerTarget, Role: "member"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Adding the same member again conflicts.
	rec = doRequest(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/orgs/%d/members", org.ID), "auth0|alice",
		AddMemberRequest{PrincipalID: strangerTarget, Role: "member"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListMembersRequiresMembership(t *testing.T) {
	_, handler := setupAPI(t)
	resolvePrincipal(t, handler, "auth0|alice")
	org := createOrg(t, handler, "auth0|alice", "Acme")

	rec := doRequest(t, handler, http.MethodGet,
		fmt.Sprintf("/v1/orgs/%d/members", org.ID), "auth0|bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodGet,
		fmt.Sprintf("/v1/orgs/%d/members", org.ID), "auth0|alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var members []*orgs.Membership
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	assert.Len(t, members, 1)
}

func TestRemoveLastOwnerConflicts(t *testing.T) {
	_, handler := setupAPI(t)
	ownerID := resolvePrincipal(t, handler, "auth0|alice")
	org := createOrg(t, handler, "auth0|alice", "Acme")

	rec := doRequest(t, handler, http.MethodDelete,
		fmt.Sprintf("/v1/orgs/%d/members/%d", org.ID, ownerID), "auth0|alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetOrgPubliclyReadable(t *testing.T) {
	_, handler := setupAPI(t)
	resolvePrincipal(t, handler, "auth0|alice")
	org := createOrg(t, handler, "auth0|alice", "Acme")

	// A principal with no membership can still read the organization.
	rec := doRequest(t, handler, http.MethodGet,
		fmt.Sprintf("/v1/orgs/%d", org.ID), "auth0|bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got orgs.Organization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, org.ID, got.ID)
}

func TestInvitationLifecycle(t *testing.T) {
	db, handler := setupAPI(t)
	resolvePrincipal(t, handler, "auth0|alice")
	org := createOrg(t, handler, "auth0|alice", "Acme")

	// Only admins and owners may invite.
	rec := doRequest(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/orgs/%d/invitations", org.ID), "auth0|bob",
		InviteRequest{Email: "carol@example.com", Role: "member"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, handler, http.MethodPost,
		fmt.Sprintf("/v1/orgs/%d/invitations", org.ID), "auth0|alice",
		InviteRequest{Email: "carol@example.com", Role: "member"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var inv orgs.Invitation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.NotEmpty(t, inv.Token)

	rec = doRequest(t, handler, http.MethodDelete,
		fmt.Sprintf("/v1/orgs/%d/invitations/%d", org.ID, inv.ID), "auth0|alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM org_invitations").Scan(&count))
	assert.Zero(t, count)
}
