package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store persists role assignments and role permission sets. It implements
// AssignmentReader and PermissionSetSource for the engine.
type Store struct {
	db *sql.DB
}

// NewStore creates a store on db. The engine's store should be given the
// authz reader pool; administrative writes go through the primary.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// HasGlobalDefaultRole reports whether the user holds any global default assignment
func (s *Store) HasGlobalDefaultRole(ctx context.Context, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM role_assignments
			WHERE user_id = $1 AND tenant_id IS NULL AND kind = 'default' AND role IS NOT NULL
		)
	`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check global roles: %w", err)
	}
	return exists, nil
}

// DefaultRoles returns the distinct roles of the user's default assignments
// that are global or scoped to the given tenant
func (s *Store) DefaultRoles(ctx context.Context, userID uuid.UUID, tenant TenantContext) ([]Role, error) {
	query := `
		SELECT DISTINCT role FROM role_assignments
		WHERE user_id = $1 AND kind = 'default' AND role IS NOT NULL AND tenant_id IS NULL
	`
	args := []interface{}{userID}

	if tenantID, ok := tenant.TenantID(); ok {
		query = `
			SELECT DISTINCT role FROM role_assignments
			WHERE user_id = $1 AND kind = 'default' AND role IS NOT NULL
			  AND (tenant_id IS NULL OR tenant_id = $2)
		`
		args = append(args, tenantID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role, err := ParseRole(raw)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}

	return roles, nil
}

// RolePermissions returns the permission set of a role, empty if none is stored
func (s *Store) RolePermissions(ctx context.Context, role Role) (PermissionSet, error) {
	set, err := s.GetRolePermissionSet(ctx, role)
	if errors.Is(err, sql.ErrNoRows) {
		return make(PermissionSet), nil
	}
	if err != nil {
		return nil, err
	}
	return set.Permissions, nil
}

// GetRolePermissionSet returns the stored set for a role, or sql.ErrNoRows
func (s *Store) GetRolePermissionSet(ctx context.Context, role Role) (*RolePermissionSet, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, string(role))
	}

	query := `SELECT role, permissions, notes, updated_at FROM role_permissions WHERE role = $1`

	set, err := scanRolePermissionSet(s.db.QueryRowContext(ctx, query, role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permissions of role %s: %w", role, err)
	}
	return set, nil
}

// ListRolePermissionSets returns every stored set ordered by role
func (s *Store) ListRolePermissionSets(ctx context.Context) ([]RolePermissionSet, error) {
	query := `SELECT role, permissions, notes, updated_at FROM role_permissions ORDER BY role`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()

	var sets []RolePermissionSet
	for rows.Next() {
		set, err := scanRolePermissionSet(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, *set)
	}
	return sets, rows.Err()
}

// CountRolePermissionSets returns the number of stored sets
func (s *Store) CountRolePermissionSets(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM role_permissions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count role permissions: %w", err)
	}
	return n, nil
}

// PutRolePermissions creates or replaces the set of a role
func (s *Store) PutRolePermissions(ctx context.Context, set *RolePermissionSet) error {
	if !set.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, string(set.Role))
	}
	for p := range set.Permissions {
		if !p.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, string(p))
		}
	}

	encoded, err := json.Marshal(set.Permissions.Sorted())
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	set.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO role_permissions (role, permissions, notes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role) DO UPDATE
		SET permissions = EXCLUDED.permissions, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, set.Role, string(encoded), set.Notes, set.UpdatedAt); err != nil {
		return fmt.Errorf("failed to store permissions of role %s: %w", set.Role, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRolePermissionSet(row rowScanner) (*RolePermissionSet, error) {
	var (
		rawRole string
		rawPerm []byte
		set     RolePermissionSet
	)
	if err := row.Scan(&rawRole, &rawPerm, &set.Notes, &set.UpdatedAt); err != nil {
		return nil, err
	}

	role, err := ParseRole(rawRole)
	if err != nil {
		return nil, err
	}
	set.Role = role

	if err := json.Unmarshal(rawPerm, &set.Permissions); err != nil {
		if IsConfigurationError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to decode permissions of role %s: %w", role, err)
	}
	return &set, nil
}

// AssignRole stores a new assignment. Duplicates return ErrAssignmentExists.
func (s *Store) AssignRole(ctx context.Context, assignment *RoleAssignment) error {
	return InsertAssignment(ctx, s.db, assignment)
}

// InsertAssignment stores a new assignment through db, which may be a transaction
func InsertAssignment(ctx context.Context, db Execer, assignment *RoleAssignment) error {
	if assignment.Kind == "" {
		assignment.Kind = KindDefault
	}
	if err := assignment.Validate(); err != nil {
		return err
	}
	if assignment.ID == uuid.Nil {
		assignment.ID = uuid.New()
	}
	if assignment.GrantedAt.IsZero() {
		assignment.GrantedAt = time.Now().UTC()
	}

	var role sql.NullString
	if assignment.Role != "" {
		role = sql.NullString{String: string(assignment.Role), Valid: true}
	}
	var grantedBy uuid.NullUUID
	if assignment.GrantedBy != nil {
		grantedBy = uuid.NullUUID{UUID: *assignment.GrantedBy, Valid: true}
	}

	query := `
		INSERT INTO role_assignments (id, user_id, tenant_id, role, kind, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`

	result, err := db.ExecContext(ctx, query,
		assignment.ID,
		assignment.UserID,
		assignment.Scope.nullable(),
		role,
		string(assignment.Kind),
		grantedBy,
		assignment.GrantedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: user %s, %s", ErrReferenceNotFound, assignment.UserID, assignment.Scope)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAssignmentExists
	}
	return nil
}

// GetAssignment returns one assignment by id
func (s *Store) GetAssignment(ctx context.Context, id uuid.UUID) (*RoleAssignment, error) {
	query := `
		SELECT id, user_id, tenant_id, role, kind, granted_by, granted_at
		FROM role_assignments WHERE id = $1
	`

	assignment, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return assignment, nil
}

// ListTenantAssignments returns the assignments scoped to one tenant, of any kind
func (s *Store) ListTenantAssignments(ctx context.Context, tenantID uuid.UUID) ([]RoleAssignment, error) {
	query := `
		SELECT id, user_id, tenant_id, role, kind, granted_by, granted_at
		FROM role_assignments WHERE tenant_id = $1
		ORDER BY granted_at, id
	`
	return s.listAssignments(ctx, query, tenantID)
}

// ListUserAssignments returns every assignment of a user, global and scoped
func (s *Store) ListUserAssignments(ctx context.Context, userID uuid.UUID) ([]RoleAssignment, error) {
	query := `
		SELECT id, user_id, tenant_id, role, kind, granted_by, granted_at
		FROM role_assignments WHERE user_id = $1
		ORDER BY granted_at, id
	`
	return s.listAssignments(ctx, query, userID)
}

func (s *Store) listAssignments(ctx context.Context, query string, args ...interface{}) ([]RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var out []RoleAssignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, *assignment)
	}
	return out, rows.Err()
}

func scanAssignment(row rowScanner) (*RoleAssignment, error) {
	var (
		a         RoleAssignment
		tenantID  uuid.NullUUID
		role      sql.NullString
		kind      string
		grantedBy uuid.NullUUID
	)
	if err := row.Scan(&a.ID, &a.UserID, &tenantID, &role, &kind, &grantedBy, &a.GrantedAt); err != nil {
		return nil, err
	}

	a.Scope = scopeFromNullable(tenantID)
	a.Kind = AssignmentKind(kind)
	if role.Valid {
		a.Role = Role(role.String)
	}
	if grantedBy.Valid {
		id := grantedBy.UUID
		a.GrantedBy = &id
	}
	return &a, nil
}

// RevokeAssignment deletes an assignment by id
func (s *Store) RevokeAssignment(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM role_assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return requireAffected(result)
}

// RevokeTenantAssignment deletes an assignment only if it is scoped to tenantID
func (s *Store) RevokeTenantAssignment(ctx context.Context, tenantID, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to revoke assignment: %w", err)
	}
	return requireAffected(result)
}

// RevokeUserTenantAssignments deletes every assignment the user holds in one tenant
func RevokeUserTenantAssignments(ctx context.Context, db Execer, tenantID, userID uuid.UUID) error {
	if _, err := db.ExecContext(ctx,
		`DELETE FROM role_assignments WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID); err != nil {
		return fmt.Errorf("failed to revoke tenant assignments: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
