package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Querier is the subset of *sql.DB and *sql.Tx the service needs. Binding a
// service to a transaction gives the policy evaluator the same membership
// snapshot the subsequent write will use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements organization and membership management over a
// Querier
type PostgresService struct {
	db Querier
}

// NewPostgresService creates a service bound to the connection pool
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// WithQuerier returns a service bound to the given querier, typically a
// transaction
func (s *PostgresService) WithQuerier(q Querier) *PostgresService {
	return &PostgresService{db: q}
}

// CreateOrganization creates a new organization
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.PlanTier == "" {
		org.PlanTier = PlanFree
	}
	if org.Status == "" {
		org.Status = OrgStatusActive
	}

	query := `
		INSERT INTO organizations (name, slug, display_name, description, plan_tier, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, org.Name, org.Slug, org.DisplayName,
		org.Description, org.PlanTier, org.Status).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	return s.getOrganization(ctx, "id = $1", id)
}

// GetOrganizationBySlug retrieves an organization by its uniqueness key
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.getOrganization(ctx, "slug = $1", slug)
}

func (s *PostgresService) getOrganization(ctx context.Context, where string, arg interface{}) (*Organization, error) {
	query := `
		SELECT id, name, slug, display_name, COALESCE(description, ''), plan_tier, status,
		       created_at, updated_at
		FROM organizations
		WHERE ` + where
	org := &Organization{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&org.ID, &org.Name, &org.Slug, &org.DisplayName, &org.Description,
		&org.PlanTier, &org.Status, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizationsFor lists organizations where the principal holds an
// active membership
func (s *PostgresService) ListOrganizationsFor(ctx context.Context, principalID int64) ([]*Organization, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.display_name, COALESCE(o.description, ''), o.plan_tier,
		       o.status, o.created_at, o.updated_at
		FROM organizations o
		JOIN memberships m ON m.organization_id = o.id
		WHERE m.principal_id = $1 AND m.status = 'active'
		ORDER BY o.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		org := &Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.DisplayName,
			&org.Description, &org.PlanTier, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// UpdateOrganization updates an organization's display fields
func (s *PostgresService) UpdateOrganization(ctx context.Context, id int64, updates *UpdateOrgRequest) error {
	var sets []string
	var args []interface{}
	idx := 1

	if updates.DisplayName != nil {
		sets = append(sets, fmt.Sprintf("display_name = $%d", idx))
		args = append(args, *updates.DisplayName)
		idx++
	}
	if updates.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, *updates.Description)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("organization not found")
	}
	return nil
}

// generateSlug derives a URL-safe slug from an organization name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '_', r == '-', r == '.':
			return '-'
		}
		return -1
	}, slug)
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	return strings.Trim(slug, "-")
}
