package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// PostgresService implements the Service interface using database/sql
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateTenant inserts the tenant, the creator's membership and the creator's
// tenant-scoped administrator assignment in one transaction
func (s *PostgresService) CreateTenant(ctx context.Context, creator uuid.UUID, req *CreateTenantRequest) (*Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tenant := &Tenant{
		ID:          uuid.New(),
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Icon:        req.Icon,
		CreatedBy:   &creator,
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var taken bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE name = $1)`, tenant.Name).Scan(&taken); err != nil {
		return nil, fmt.Errorf("failed to check tenant name: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, tenant.Name)
	}

	if err := requireProfile(ctx, tx, creator); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenants (id, name, display_name, icon, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tenant.ID, tenant.Name, tenant.DisplayName, string(tenant.Icon), creator, tenant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrNameTaken, tenant.Name)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_memberships (tenant_id, user_id, joined_at) VALUES ($1, $2, $3)`,
		tenant.ID, creator, tenant.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to add creator membership: %w", err)
	}

	admin := &rbac.RoleAssignment{
		UserID:    creator,
		Role:      rbac.RoleAdministrator,
		Scope:     rbac.TenantScope(tenant.ID),
		Kind:      rbac.KindDefault,
		GrantedBy: &creator,
		GrantedAt: tenant.CreatedAt,
	}
	if err := rbac.InsertAssignment(ctx, tx, admin); err != nil {
		return nil, fmt.Errorf("failed to grant creator administrator: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant: %w", err)
	}
	return tenant, nil
}

const tenantColumns = `id, name, display_name, icon, created_by, created_at`

// GetTenant retrieves a tenant by ID
func (s *PostgresService) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	tenant, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// ListTenants lists every tenant
func (s *PostgresService) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return collectTenants(rows)
}

// ListTenantsForUser lists the tenants a user is a member of
func (s *PostgresService) ListTenantsForUser(ctx context.Context, userID uuid.UUID) ([]*Tenant, error) {
	query := `
		SELECT t.id, t.name, t.display_name, t.icon, t.created_by, t.created_at
		FROM tenants t
		JOIN tenant_memberships m ON m.tenant_id = t.id
		WHERE m.user_id = $1
		ORDER BY t.name
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return collectTenants(rows)
}

// UpdateTenant updates the display name or icon and returns the stored tenant
func (s *PostgresService) UpdateTenant(ctx context.Context, id uuid.UUID, req *UpdateTenantRequest) (*Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.DisplayName != nil {
		setClauses = append(setClauses, fmt.Sprintf("display_name = $%d", argPos))
		args = append(args, *req.DisplayName)
		argPos++
	}
	if req.Icon != nil {
		setClauses = append(setClauses, fmt.Sprintf("icon = $%d", argPos))
		args = append(args, string(*req.Icon))
		argPos++
	}

	if len(setClauses) == 0 {
		return s.GetTenant(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE tenants SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}
	if err := requireRow(result, ErrTenantNotFound); err != nil {
		return nil, err
	}
	return s.GetTenant(ctx, id)
}

// DeleteTenant removes the tenant with its memberships and tenant-scoped role
// assignments in one transaction
func (s *PostgresService) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_assignments WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tenant_memberships WHERE tenant_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	if err := requireRow(result, ErrTenantNotFound); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tenant deletion: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	tenant := &Tenant{}
	var icon string
	var createdBy uuid.NullUUID
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.DisplayName, &icon, &createdBy, &tenant.CreatedAt); err != nil {
		return nil, err
	}
	tenant.Icon = Icon(icon)
	if createdBy.Valid {
		id := createdBy.UUID
		tenant.CreatedBy = &id
	}
	return tenant, nil
}

func collectTenants(rows *sql.Rows) ([]*Tenant, error) {
	defer rows.Close()

	tenants := []*Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}
	return tenants, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func requireProfile(ctx context.Context, db queryRower, userID uuid.UUID) error {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM user_profiles WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check user profile: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

func requireRow(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
