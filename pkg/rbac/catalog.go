package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Permission is a dot-namespaced capability name. Only catalog members are valid.
type Permission string

// Namespace is the first segment of a permission name
type Namespace string

const (
	NamespaceSystem  Namespace = "system"
	NamespaceTenants Namespace = "tenants"
)

// System permissions. Resolved against global assignments only.
const (
	PermSystemAll         Permission = "system.all"
	PermSystemUsersView   Permission = "system.users.view"
	PermSystemUsersManage Permission = "system.users.manage"
	PermSystemTenantsView Permission = "system.tenants.view"
	PermSystemRolesManage Permission = "system.roles.manage"
)

// Tenant permissions
const (
	PermTenantsAll           Permission = "tenants.all"
	PermTenantsCreate        Permission = "tenants.create"
	PermTenantsView          Permission = "tenants.view"
	PermTenantsUpdate        Permission = "tenants.update"
	PermTenantsDelete        Permission = "tenants.delete"
	PermTenantsMembersView   Permission = "tenants.members.view"
	PermTenantsMembersInvite Permission = "tenants.members.invite"
	PermTenantsMembersRemove Permission = "tenants.members.remove"
	PermTenantsRolesView     Permission = "tenants.roles.view"
	PermTenantsRolesAssign   Permission = "tenants.roles.assign"
	PermTenantsRolesDelete   Permission = "tenants.roles.delete"
)

var permissionCatalog = map[Permission]struct{}{
	PermSystemAll:            {},
	PermSystemUsersView:      {},
	PermSystemUsersManage:    {},
	PermSystemTenantsView:    {},
	PermSystemRolesManage:    {},
	PermTenantsAll:           {},
	PermTenantsCreate:        {},
	PermTenantsView:          {},
	PermTenantsUpdate:        {},
	PermTenantsDelete:        {},
	PermTenantsMembersView:   {},
	PermTenantsMembersInvite: {},
	PermTenantsMembersRemove: {},
	PermTenantsRolesView:     {},
	PermTenantsRolesAssign:   {},
	PermTenantsRolesDelete:   {},
}

var namespaceWildcards = map[Namespace]Permission{
	NamespaceSystem:  PermSystemAll,
	NamespaceTenants: PermTenantsAll,
}

// ParsePermission validates s against the catalog. Matching is exact and case-sensitive.
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// Valid reports whether p is a catalog member
func (p Permission) Valid() bool {
	_, ok := permissionCatalog[p]
	return ok
}

// Namespace returns the segment before the first dot
func (p Permission) Namespace() Namespace {
	if i := strings.IndexByte(string(p), '.'); i > 0 {
		return Namespace(p[:i])
	}
	return Namespace(p)
}

// IsWildcard reports whether p is its namespace's wildcard
func (p Permission) IsWildcard() bool {
	w, ok := namespaceWildcards[p.Namespace()]
	return ok && w == p
}

func (p Permission) String() string {
	return string(p)
}

// Wildcard returns the permission that implies every member of the namespace
func (n Namespace) Wildcard() (Permission, bool) {
	w, ok := namespaceWildcards[n]
	return w, ok
}

// Permissions returns the full catalog in lexical order
func Permissions() []Permission {
	out := make([]Permission, 0, len(permissionCatalog))
	for p := range permissionCatalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Role names a built-in role. Only catalog members are valid.
type Role string

const (
	RoleAdministrator   Role = "administrator"
	RoleTenantModerator Role = "tenant_moderator"
	RoleMember          Role = "member"
	RoleBasicUser       Role = "basic_user"
	RoleSystemAdmin     Role = "system_admin"
)

var roleCatalog = []Role{
	RoleAdministrator,
	RoleTenantModerator,
	RoleMember,
	RoleBasicUser,
	RoleSystemAdmin,
}

// ParseRole validates s against the role catalog
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Valid reports whether r is a catalog member
func (r Role) Valid() bool {
	for _, known := range roleCatalog {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// Roles returns the role catalog
func Roles() []Role {
	return append([]Role(nil), roleCatalog...)
}

// AssignmentKind distinguishes built-in role assignments from custom ones.
// Only default assignments take part in authorization.
type AssignmentKind string

const (
	KindDefault AssignmentKind = "default"
	KindCustom  AssignmentKind = "custom"
)

// ParseAssignmentKind validates s
func ParseAssignmentKind(s string) (AssignmentKind, error) {
	switch k := AssignmentKind(s); k {
	case KindDefault, KindCustom:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAssignmentKind, s)
	}
}
