package tenants

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// ListMembers retrieves all members of a tenant with their profile names
func (s *PostgresService) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*Member, error) {
	query := `
		SELECT m.tenant_id, m.user_id, p.display_name, p.email, m.joined_at
		FROM tenant_memberships m
		JOIN user_profiles p ON p.user_id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY m.joined_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*Member{}
	for rows.Next() {
		member := &Member{}
		if err := rows.Scan(&member.TenantID, &member.UserID, &member.DisplayName, &member.Email, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}
	return members, nil
}

// AddMember adds a user with a profile to a tenant. Membership alone grants
// nothing; roles are assigned separately.
func (s *PostgresService) AddMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	if err := requireProfile(ctx, s.db, userID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_memberships (tenant_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`, tenantID, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMemberExists
	}
	return nil
}

// RemoveMember deletes the membership and every role assignment the user
// holds in the tenant, in one transaction
func (s *PostgresService) RemoveMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := rbac.RevokeUserTenantAssignments(ctx, tx, tenantID, userID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err := requireRow(result, ErrMemberNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member removal: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the tenant
func (s *PostgresService) IsMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2)`,
		tenantID, userID,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return member, nil
}
