package identity

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
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
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	return db
}

func TestResolveCreatesOnFirstSight(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	p, err := resolver.Resolve(context.Background(), "auth0|user-1")
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "auth0|user-1", p.ExternalRef)
	assert.Equal(t, SystemRoleMember, p.Role)
	assert.Equal(t, "user-1", p.Username)
	assert.False(t, p.IsService)
	assert.True(t, p.IsActive)
}

func TestResolveIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "auth0|user-2")
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "auth0|user-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM principals WHERE external_ref = 'auth0|user-2'").Scan(&count))
	assert.Equal(t, 1, count, "exactly one principal row after repeated resolves")
}

func TestResolveConcurrentFirstSight(t *testing.T) {
	db := setupTestDB(t)
	// sqlite serializes writers; the assertion here is on row convergence,
	// not lock behavior.
	db.SetMaxOpenConns(1)
	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := resolver.Resolve(context.Background(), "okta/raced")
			if err != nil {
				t.Errorf("resolve failed: %v", err)
				return
			}
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, ids[0], ids[i], "all racing resolves must return the same principal")
	}

	var count int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM principals WHERE external_ref = 'okta/raced'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestResolveDoesNotOverwriteExistingAttributes(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := resolver.Resolve(ctx, "auth0|user-3")
	require.NoError(t, err)

	_, err = db.Exec("UPDATE principals SET role = 'admin', username = 'custom' WHERE id = ?", p.ID)
	require.NoError(t, err)

	again, err := resolver.Resolve(ctx, "auth0|user-3")
	require.NoError(t, err)
	assert.Equal(t, SystemRoleAdmin, again.Role, "resolve must not reset an elevated role")
	assert.Equal(t, "custom", again.Username)
}

func TestResolveRejectsMalformedInput(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)
	ctx := context.Background()

	for _, ref := range []string{"", "has space", "has\ttab", "ctrl\x00char", ServiceExternalRef} {
		_, err := resolver.Resolve(ctx, ref)
		assert.ErrorIs(t, err, ErrIdentityNotResolved, "ref %q", ref)
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM principals").Scan(&count))
	assert.Zero(t, count, "malformed input must not create principals")
}

func TestServicePrincipal(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)
	ctx := context.Background()

	svc, err := resolver.ServicePrincipal(ctx)
	require.NoError(t, err)
	assert.True(t, svc.IsService)
	assert.Equal(t, ServiceExternalRef, svc.ExternalRef)

	again, err := resolver.ServicePrincipal(ctx)
	require.NoError(t, err)
	assert.Equal(t, svc.ID, again.ID)
}

func TestResolveCacheEvictsStaleEntries(t *testing.T) {
	db := setupTestDB(t)
	resolver, err := NewResolver(db, 16)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := resolver.Resolve(ctx, "auth0|user-4")
	require.NoError(t, err)

	// Simulate the principal being removed out from under the cache.
	_, err = db.Exec("DELETE FROM principals WHERE id = ?", p.ID)
	require.NoError(t, err)

	recreated, err := resolver.Resolve(ctx, "auth0|user-4")
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, recreated.ID)
}

func TestUpdateOwnProfileExcludesRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	email := "new@example.com"
	name := "New Name"
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE principals SET email = $1, full_name = $2, updated_at = NOW() WHERE id = $3")).
		WithArgs(email, name, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = resolver.UpdateOwnProfile(context.Background(), 7, ProfileUpdate{Email: &email, FullName: &name})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateOwnProfileNoFieldsIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	require.NoError(t, resolver.UpdateOwnProfile(context.Background(), 7, ProfileUpdate{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRole(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE principals SET role = $1, updated_at = NOW() WHERE id = $2 AND is_service = FALSE")).
		WithArgs(SystemRoleAdmin, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, resolver.UpdateRole(context.Background(), 9, SystemRoleAdmin))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRoleRejectsUnknownRole(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	resolver, err := NewResolver(db, 0)
	require.NoError(t, err)

	assert.Error(t, resolver.UpdateRole(context.Background(), 9, SystemRole("superuser")))
}
