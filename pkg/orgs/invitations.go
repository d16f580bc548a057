package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// invitationTTL is how long an invitation stays redeemable
const invitationTTL = 7 * 24 * time.Hour

// CreateInvitation creates a new invitation with a fresh token. Re-inviting
// the same email to the same organization refreshes the token and expiry.
func (s *PostgresService) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	if !invitation.Role.Valid() {
		return fmt.Errorf("unknown role %q", invitation.Role)
	}
	invitation.Token = uuid.NewString()
	if invitation.InvitedAt.IsZero() {
		invitation.InvitedAt = time.Now()
	}
	if invitation.ExpiresAt.IsZero() {
		invitation.ExpiresAt = invitation.InvitedAt.Add(invitationTTL)
	}

	query := `
		INSERT INTO org_invitations (org_id, email, role, token, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (org_id, email) DO UPDATE
		SET token = EXCLUDED.token, role = EXCLUDED.role,
		    invited_at = EXCLUDED.invited_at, expires_at = EXCLUDED.expires_at
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, invitation.OrgID, invitation.Email, invitation.Role,
		invitation.Token, invitation.InvitedBy, invitation.InvitedAt, invitation.ExpiresAt).
		Scan(&invitation.ID)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves an invitation by token
func (s *PostgresService) GetInvitation(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, org_id, email, role, token, invited_by, invited_at, expires_at, accepted_at, accepted_by
		FROM org_invitations
		WHERE token = $1
	`
	inv := &Invitation{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.Token,
		&inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// AcceptInvitation redeems an invitation for a principal: the membership row
// is created with the invited role and active status, and the invitation is
// marked accepted. Both writes happen in the caller's querier, so wrap in a
// transaction to keep them atomic.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, principalID int64) error {
	inv, err := s.GetInvitation(ctx, token)
	if err != nil {
		return err
	}
	if inv.AcceptedAt != nil {
		return fmt.Errorf("invitation already accepted")
	}
	if time.Now().After(inv.ExpiresAt) {
		return fmt.Errorf("invitation expired")
	}

	if err := s.AddMember(ctx, inv.OrgID, principalID, inv.Role, StatusActive, &inv.InvitedBy); err != nil && err != ErrMemberExists {
		return err
	}

	query := `UPDATE org_invitations SET accepted_at = NOW(), accepted_by = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, principalID, inv.ID); err != nil {
		return fmt.Errorf("failed to update invitation: %w", err)
	}
	return nil
}

// RevokeInvitation revokes an unaccepted invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, id int64) error {
	query := `DELETE FROM org_invitations WHERE id = $1 AND accepted_at IS NULL`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("invitation not found or already accepted")
	}
	return nil
}

// CleanupExpiredInvitations removes expired unaccepted invitations
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	query := `DELETE FROM org_invitations WHERE expires_at < NOW() AND accepted_at IS NULL`
	result, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// ScheduleInvitationCleanup registers a periodic cleanup job on the given
// cron scheduler. The job runs as the backend service principal context.
func (s *PostgresService) ScheduleInvitationCleanup(c *cron.Cron, log *logrus.Logger) (cron.EntryID, error) {
	return c.AddFunc("@hourly", func() {
		removed, err := s.CleanupExpiredInvitations(context.Background())
		if err != nil {
			log.WithError(err).Error("invitation cleanup failed")
			return
		}
		if removed > 0 {
			log.WithField("removed", removed).Info("cleaned up expired invitations")
		}
	})
}
