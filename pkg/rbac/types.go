package rbac

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Scope is where a role assignment applies: globally, or inside one tenant.
// The zero value is global.
type Scope struct {
	tenant uuid.UUID
	scoped bool
}

// GlobalScope returns the system-wide scope
func GlobalScope() Scope {
	return Scope{}
}

// TenantScope returns a scope limited to one tenant
func TenantScope(id uuid.UUID) Scope {
	return Scope{tenant: id, scoped: true}
}

// IsGlobal reports whether the scope is system-wide
func (s Scope) IsGlobal() bool {
	return !s.scoped
}

// TenantID returns the tenant the scope is limited to
func (s Scope) TenantID() (uuid.UUID, bool) {
	return s.tenant, s.scoped
}

func (s Scope) String() string {
	if !s.scoped {
		return "global"
	}
	return "tenant:" + s.tenant.String()
}

// nullable returns the value stored in the tenant_id column
func (s Scope) nullable() uuid.NullUUID {
	return uuid.NullUUID{UUID: s.tenant, Valid: s.scoped}
}

func scopeFromNullable(n uuid.NullUUID) Scope {
	if !n.Valid {
		return GlobalScope()
	}
	return TenantScope(n.UUID)
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.nullable())
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var n uuid.NullUUID
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = scopeFromNullable(n)
	return nil
}

// TenantContext is the tenant a permission is being asked about. It is a
// different type from Scope: "no tenant" here means the question is asked
// outside any tenant, not that something is global.
type TenantContext struct {
	tenant uuid.UUID
	set    bool
}

// NoTenant is the context for questions asked outside any tenant
var NoTenant = TenantContext{}

// InTenant returns the context for a question about one tenant
func InTenant(id uuid.UUID) TenantContext {
	return TenantContext{tenant: id, set: true}
}

// TenantID returns the tenant in question
func (c TenantContext) TenantID() (uuid.UUID, bool) {
	return c.tenant, c.set
}

func (c TenantContext) String() string {
	if !c.set {
		return "none"
	}
	return c.tenant.String()
}

// PermissionSet is an unordered set of permissions. Wildcards are ordinary members.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Contains reports whether p is a member
func (s PermissionSet) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Add inserts p
func (s PermissionSet) Add(p Permission) {
	s[p] = struct{}{}
}

// Union adds every member of other to s
func (s PermissionSet) Union(other PermissionSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Sorted returns the members in lexical order
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grants reports whether the set allows p, either directly or through the
// wildcard of p's namespace
func (s PermissionSet) Grants(p Permission) bool {
	if s.Contains(p) {
		return true
	}
	w, ok := p.Namespace().Wildcard()
	return ok && s.Contains(w)
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set := make(PermissionSet, len(raw))
	for _, r := range raw {
		p, err := ParsePermission(r)
		if err != nil {
			return err
		}
		set.Add(p)
	}
	*s = set
	return nil
}

// RoleAssignment grants a role to a user, globally or within one tenant.
// Custom assignments may omit the role and never take part in authorization.
type RoleAssignment struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Role      Role           `json:"role,omitempty"`
	Scope     Scope          `json:"tenant_id"`
	Kind      AssignmentKind `json:"kind"`
	GrantedBy *uuid.UUID     `json:"granted_by,omitempty"`
	GrantedAt time.Time      `json:"granted_at"`
}

// Validate checks the kind, the role and the default-needs-role rule
func (a *RoleAssignment) Validate() error {
	if _, err := ParseAssignmentKind(string(a.Kind)); err != nil {
		return err
	}
	if a.Role != "" && !a.Role.Valid() {
		_, err := ParseRole(string(a.Role))
		return err
	}
	if a.Kind == KindDefault && a.Role == "" {
		return ErrRoleRequired
	}
	return nil
}

// RolePermissionSet is the permission set of one role. There is at most one per role.
type RolePermissionSet struct {
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	Notes       string        `json:"notes,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
