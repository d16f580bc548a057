package orgs

import (
	"context"
	"database/sql"
	"fmt"
)

// ListMembers retrieves all memberships of an organization
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*Membership, error) {
	query := `
		SELECT id, organization_id, principal_id, role, status, invited_by, joined_at, created_at
		FROM memberships
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*Membership
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.PrincipalID, &m.Role, &m.Status,
			&m.InvitedBy, &m.JoinedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember retrieves the membership for a (organization, principal) pair
func (s *PostgresService) GetMember(ctx context.Context, orgID, principalID int64) (*Membership, error) {
	query := `
		SELECT id, organization_id, principal_id, role, status, invited_by, joined_at, created_at
		FROM memberships
		WHERE organization_id = $1 AND principal_id = $2
	`
	m := &Membership{}
	err := s.db.QueryRowContext(ctx, query, orgID, principalID).Scan(
		&m.ID, &m.OrganizationID, &m.PrincipalID, &m.Role, &m.Status,
		&m.InvitedBy, &m.JoinedAt, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ActiveMembership returns the membership for the pair if its status is
// active, or nil if the principal has no active membership. Only active
// memberships participate in authorization decisions.
func (s *PostgresService) ActiveMembership(ctx context.Context, orgID, principalID int64) (*Membership, error) {
	m, err := s.GetMember(ctx, orgID, principalID)
	if err == ErrMemberNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Status != StatusActive {
		return nil, nil
	}
	return m, nil
}

// AddMember adds a principal to an organization. The (organization,
// principal) pair is unique; adding an existing member returns
// ErrMemberExists.
func (s *PostgresService) AddMember(ctx context.Context, orgID, principalID int64, role Role, status MemberStatus, invitedBy *int64) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	query := `
		INSERT INTO memberships (organization_id, principal_id, role, status, invited_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, principal_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, orgID, principalID, role, status, invitedBy)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberExists
	}
	return nil
}

// UpdateMemberRole changes a member's role. Demoting the last active owner is
// refused with ErrLastOwner.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID, principalID int64, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if role != RoleOwner {
		if err := s.guardLastOwner(ctx, orgID, principalID); err != nil {
			return err
		}
	}

	query := `UPDATE memberships SET role = $1 WHERE organization_id = $2 AND principal_id = $3`
	result, err := s.db.ExecContext(ctx, query, role, orgID, principalID)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// UpdateMemberStatus changes a member's status (e.g. activating a pending
// membership or suspending an active one). Suspending the last active owner
// is refused with ErrLastOwner.
func (s *PostgresService) UpdateMemberStatus(ctx context.Context, orgID, principalID int64, status MemberStatus) error {
	if status != StatusActive {
		if err := s.guardLastOwner(ctx, orgID, principalID); err != nil {
			return err
		}
	}

	query := `UPDATE memberships SET status = $1 WHERE organization_id = $2 AND principal_id = $3`
	result, err := s.db.ExecContext(ctx, query, status, orgID, principalID)
	if err != nil {
		return fmt.Errorf("failed to update member status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// RemoveMember removes a principal from an organization. Removing the last
// active owner is refused with ErrLastOwner.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, principalID int64) error {
	if err := s.guardLastOwner(ctx, orgID, principalID); err != nil {
		return err
	}

	query := `DELETE FROM memberships WHERE organization_id = $1 AND principal_id = $2`
	result, err := s.db.ExecContext(ctx, query, orgID, principalID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// guardLastOwner refuses mutations that would leave the organization with no
// active owner. It is a no-op when the target member is not currently an
// active owner.
func (s *PostgresService) guardLastOwner(ctx context.Context, orgID, principalID int64) error {
	query := `
		SELECT COUNT(*) FILTER (WHERE principal_id = $1),
		       COUNT(*) FILTER (WHERE principal_id <> $1)
		FROM memberships
		WHERE organization_id = $2 AND role = 'owner' AND status = 'active'
	`
	var isOwner, otherOwners int
	if err := s.db.QueryRowContext(ctx, query, principalID, orgID).Scan(&isOwner, &otherOwners); err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if isOwner > 0 && otherOwners == 0 {
		return ErrLastOwner
	}
	return nil
}
