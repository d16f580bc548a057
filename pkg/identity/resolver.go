package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxExternalRefLength bounds the accepted external reference size; provider
// subjects are far shorter in practice
const maxExternalRefLength = 512

// Resolver maps external identity references to principals, creating a
// principal on first sight
type Resolver struct {
	db    *sql.DB
	cache *lru.Cache[string, int64]
}

// NewResolver creates a resolver backed by the given database. cacheSize <= 0
// disables the resolved-id cache.
func NewResolver(db *sql.DB, cacheSize int) (*Resolver, error) {
	r := &Resolver{db: db}
	if cacheSize > 0 {
		cache, err := lru.New[string, int64](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver cache: %w", err)
		}
		r.cache = cache
	}
	return r, nil
}

// Resolve returns the principal for an external identity reference, creating
// one with role member on first sight. Calling Resolve twice for the same
// reference, including concurrently, yields the same principal id.
func (r *Resolver) Resolve(ctx context.Context, externalRef string) (*Principal, error) {
	if err := validateExternalRef(externalRef); err != nil {
		return nil, err
	}

	if r.cache != nil {
		if id, ok := r.cache.Get(externalRef); ok {
			p, err := r.GetPrincipal(ctx, id)
			if err == nil {
				return p, nil
			}
			// Cached id no longer resolves (principal removed); fall through
			// to the upsert path.
			r.cache.Remove(externalRef)
		}
	}

	// Uniqueness on external_ref plus ON CONFLICT makes concurrent first-sight
	// calls converge on one row. The no-op DO UPDATE lets RETURNING see the
	// existing row on conflict.
	query := `
		INSERT INTO principals (external_ref, username, role, is_service, is_active)
		VALUES ($1, $2, 'member', FALSE, TRUE)
		ON CONFLICT (external_ref) DO UPDATE SET external_ref = EXCLUDED.external_ref
		RETURNING id, external_ref, username, COALESCE(email, ''), COALESCE(full_name, ''),
		          role, is_service, is_active, created_at, updated_at
	`
	p := &Principal{}
	err := r.db.QueryRowContext(ctx, query, externalRef, defaultUsername(externalRef)).Scan(
		&p.ID, &p.ExternalRef, &p.Username, &p.Email, &p.FullName,
		&p.Role, &p.IsService, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve principal: %w", err)
	}

	if r.cache != nil {
		r.cache.Add(externalRef, p.ID)
	}
	return p, nil
}

// ServicePrincipal returns the reserved backend service principal, creating
// it on first use. Background jobs resolve through this instead of a
// provider-issued identity.
func (r *Resolver) ServicePrincipal(ctx context.Context) (*Principal, error) {
	query := `
		INSERT INTO principals (external_ref, username, role, is_service, is_active)
		VALUES ($1, 'gatehouse-service', 'member', TRUE, TRUE)
		ON CONFLICT (external_ref) DO UPDATE SET external_ref = EXCLUDED.external_ref
		RETURNING id, external_ref, username, COALESCE(email, ''), COALESCE(full_name, ''),
		          role, is_service, is_active, created_at, updated_at
	`
	p := &Principal{}
	err := r.db.QueryRowContext(ctx, query, ServiceExternalRef).Scan(
		&p.ID, &p.ExternalRef, &p.Username, &p.Email, &p.FullName,
		&p.Role, &p.IsService, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve service principal: %w", err)
	}
	return p, nil
}

// GetPrincipal retrieves a principal by internal id
func (r *Resolver) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	query := `
		SELECT id, external_ref, username, COALESCE(email, ''), COALESCE(full_name, ''),
		       role, is_service, is_active, created_at, updated_at
		FROM principals
		WHERE id = $1
	`
	p := &Principal{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ExternalRef, &p.Username, &p.Email, &p.FullName,
		&p.Role, &p.IsService, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("principal %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

// UpdateOwnProfile updates a principal's self-service profile fields. The
// system role is not updatable through this path.
func (r *Resolver) UpdateOwnProfile(ctx context.Context, principalID int64, update ProfileUpdate) error {
	var sets []string
	var args []interface{}
	idx := 1

	if update.Email != nil {
		sets = append(sets, fmt.Sprintf("email = $%d", idx))
		args = append(args, *update.Email)
		idx++
	}
	if update.FullName != nil {
		sets = append(sets, fmt.Sprintf("full_name = $%d", idx))
		args = append(args, *update.FullName)
		idx++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	args = append(args, principalID)
	query := fmt.Sprintf("UPDATE principals SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("principal %d not found", principalID)
	}
	return nil
}

// UpdateRole changes a principal's system role. Callers are responsible for
// authorizing this through the policy evaluator: only a principal already
// holding admin may grant or revoke admin, and never on themselves.
func (r *Resolver) UpdateRole(ctx context.Context, principalID int64, role SystemRole) error {
	if role != SystemRoleMember && role != SystemRoleAdmin {
		return fmt.Errorf("unknown system role %q", role)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE principals SET role = $1, updated_at = NOW() WHERE id = $2 AND is_service = FALSE",
		role, principalID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("principal %d not found", principalID)
	}
	return nil
}

func validateExternalRef(externalRef string) error {
	if externalRef == "" {
		return fmt.Errorf("%w: empty external reference", ErrIdentityNotResolved)
	}
	if len(externalRef) > maxExternalRefLength {
		return fmt.Errorf("%w: external reference too long", ErrIdentityNotResolved)
	}
	if externalRef == ServiceExternalRef {
		return fmt.Errorf("%w: reserved external reference", ErrIdentityNotResolved)
	}
	for _, r := range externalRef {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: malformed external reference", ErrIdentityNotResolved)
		}
	}
	return nil
}

// defaultUsername derives a first-sight display name from the external
// reference (e.g. "auth0|12345" -> "12345")
func defaultUsername(externalRef string) string {
	if i := strings.LastIndexAny(externalRef, "|/:"); i >= 0 && i+1 < len(externalRef) {
		return externalRef[i+1:]
	}
	return externalRef
}
