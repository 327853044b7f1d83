package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// AssignmentReader answers the engine's questions about role assignments.
// Only default-kind assignments are ever returned.
type AssignmentReader interface {
	// HasGlobalDefaultRole reports whether the user holds any global default assignment
	HasGlobalDefaultRole(ctx context.Context, userID uuid.UUID) (bool, error)

	// DefaultRoles returns the roles of the user's default assignments that are
	// global or scoped to the tenant in question. NoTenant matches global only.
	DefaultRoles(ctx context.Context, userID uuid.UUID, tenant TenantContext) ([]Role, error)
}

// PermissionSetSource returns the permission set of a role. A role without a
// stored set has an empty one.
type PermissionSetSource interface {
	RolePermissions(ctx context.Context, role Role) (PermissionSet, error)
}

// Authorizer decides whether a user may exercise a permission
type Authorizer interface {
	Authorize(ctx context.Context, userID uuid.UUID, permission Permission, tenant TenantContext) (bool, error)
}

// Engine is the authorization decision engine. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	assignments AssignmentReader
	permissions PermissionSetSource
}

// NewEngine creates an engine reading through the given boundaries
func NewEngine(assignments AssignmentReader, permissions PermissionSetSource) *Engine {
	return &Engine{
		assignments: assignments,
		permissions: permissions,
	}
}

// resolution describes which assignments a permission is evaluated against
type resolution struct {
	filter    TenantContext
	bootstrap bool
}

// resolve picks the evaluation rule for a permission:
//   - tenants.create only sees global roles, and requires one to exist
//   - system.* only sees global roles, whatever tenant was asked about
//   - everything else sees global roles plus roles in the tenant asked about
func resolve(permission Permission, tenant TenantContext) resolution {
	switch {
	case permission == PermTenantsCreate:
		return resolution{filter: NoTenant, bootstrap: true}
	case permission.Namespace() == NamespaceSystem:
		return resolution{filter: NoTenant}
	default:
		return resolution{filter: tenant}
	}
}

// Authorize reports whether the user may exercise permission in tenant.
// Denial is (false, nil). Unknown permissions are configuration errors and
// store failures are returned as *DataAccessError.
func (e *Engine) Authorize(ctx context.Context, userID uuid.UUID, permission Permission, tenant TenantContext) (bool, error) {
	if !permission.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownPermission, string(permission))
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	res := resolve(permission, tenant)

	if res.bootstrap {
		hasRole, err := e.assignments.HasGlobalDefaultRole(ctx, userID)
		if err != nil {
			return false, wrapDataAccess("check global default role", err)
		}
		if !hasRole {
			return false, nil
		}
	}

	granted, err := e.permissionUnion(ctx, userID, res.filter)
	if err != nil {
		return false, err
	}

	return granted.Grants(permission), nil
}

// AuthorizeCurrent authorizes the identity stored on the context by the auth
// middleware. A context without an identity is denied.
func (e *Engine) AuthorizeCurrent(ctx context.Context, permission Permission, tenant TenantContext) (bool, error) {
	return AuthorizeCurrent(ctx, e, permission, tenant)
}

// AuthorizeCurrent runs any Authorizer against the identity on the context
func AuthorizeCurrent(ctx context.Context, authorizer Authorizer, permission Permission, tenant TenantContext) (bool, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		if !permission.Valid() {
			return false, fmt.Errorf("%w: %q", ErrUnknownPermission, string(permission))
		}
		return false, nil
	}
	return authorizer.Authorize(ctx, identity.UserID, permission, tenant)
}

// GrantedPermissions expands every catalog permission the user holds in the
// given tenant context, applying the same rules as Authorize.
func (e *Engine) GrantedPermissions(ctx context.Context, userID uuid.UUID, tenant TenantContext) (PermissionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	global, err := e.permissionUnion(ctx, userID, NoTenant)
	if err != nil {
		return nil, err
	}

	scoped := global
	if _, ok := tenant.TenantID(); ok {
		scoped, err = e.permissionUnion(ctx, userID, tenant)
		if err != nil {
			return nil, err
		}
	}

	hasGlobalRole := false
	if hasGlobalRoleNeeded(global) {
		hasGlobalRole, err = e.assignments.HasGlobalDefaultRole(ctx, userID)
		if err != nil {
			return nil, wrapDataAccess("check global default role", err)
		}
	}

	out := make(PermissionSet)
	for _, p := range Permissions() {
		res := resolve(p, tenant)
		set := scoped
		if _, ok := res.filter.TenantID(); !ok {
			set = global
		}
		if res.bootstrap && !hasGlobalRole {
			continue
		}
		if set.Grants(p) {
			out.Add(p)
		}
	}
	return out, nil
}

// hasGlobalRoleNeeded reports whether the bootstrap probe can change the
// outcome. An empty global union cannot grant tenants.create anyway.
func hasGlobalRoleNeeded(global PermissionSet) bool {
	return global.Grants(PermTenantsCreate)
}

// permissionUnion collects the permissions of every default role matching the filter.
// All roles are read even after a match so errors surface the same way every time.
func (e *Engine) permissionUnion(ctx context.Context, userID uuid.UUID, filter TenantContext) (PermissionSet, error) {
	roles, err := e.assignments.DefaultRoles(ctx, userID, filter)
	if err != nil {
		return nil, wrapDataAccess("list default roles", err)
	}

	union := make(PermissionSet)
	seen := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}

		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, string(role))
		}

		perms, err := e.permissions.RolePermissions(ctx, role)
		if err != nil {
			return nil, wrapDataAccess(fmt.Sprintf("load permissions of role %s", role), err)
		}
		union.Union(perms)
	}
	return union, nil
}
