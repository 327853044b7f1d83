package rbac

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// PermissionLister expands the permissions a user holds
type PermissionLister interface {
	GrantedPermissions(ctx context.Context, userID uuid.UUID, tenant TenantContext) (PermissionSet, error)
}

// MembershipChecker reports tenant membership
type MembershipChecker interface {
	IsMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
}

// HandlersConfig wires the RBAC handlers. Invalidator and Members may be nil.
type HandlersConfig struct {
	Store       *Store
	Authorizer  Authorizer
	Permissions PermissionLister
	Invalidator Invalidator
	Members     MembershipChecker
}

// Handlers serves decision queries, role permission sets and role assignments
type Handlers struct {
	store       *Store
	authorizer  Authorizer
	permissions PermissionLister
	invalidator Invalidator
	members     MembershipChecker
	gate        *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers
func NewHandlers(config HandlersConfig) *Handlers {
	return &Handlers{
		store:       config.Store,
		authorizer:  config.Authorizer,
		permissions: config.Permissions,
		invalidator: config.Invalidator,
		members:     config.Members,
		gate:        NewPermissionMiddleware(config.Authorizer),
	}
}

func (h *Handlers) require(permission Permission, tenant TenantResolver, fn http.HandlerFunc) http.Handler {
	return h.gate.RequirePermission(permission, tenant)(fn)
}

// RegisterRoutes registers the RBAC routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	inTenant := TenantFromPath("tenant_id")

	// Decisions
	router.HandleFunc("/authz/check", h.Check).Methods("POST")
	router.HandleFunc("/authz/permissions", h.ListGrantedPermissions).Methods("GET")

	// Role permission sets
	router.Handle("/system/roles", h.require(PermSystemRolesManage, WithoutTenant, h.ListRoles)).Methods("GET")
	router.Handle("/system/roles/{role}", h.require(PermSystemRolesManage, WithoutTenant, h.PutRole)).Methods("PUT")

	// Global assignments
	router.Handle("/system/assignments", h.require(PermSystemRolesManage, WithoutTenant, h.AssignGlobalRole)).Methods("POST")
	router.Handle("/system/assignments/{assignment_id}", h.require(PermSystemRolesManage, WithoutTenant, h.RevokeGlobalRole)).Methods("DELETE")
	router.Handle("/system/users/{user_id}/assignments", h.require(PermSystemUsersView, WithoutTenant, h.ListUserAssignments)).Methods("GET")

	// Tenant assignments
	router.Handle("/tenants/{tenant_id}/roles", h.require(PermTenantsRolesView, inTenant, h.ListTenantRoles)).Methods("GET")
	router.Handle("/tenants/{tenant_id}/roles", h.require(PermTenantsRolesAssign, inTenant, h.AssignTenantRole)).Methods("POST")
	router.Handle("/tenants/{tenant_id}/roles/{assignment_id}", h.require(PermTenantsRolesDelete, inTenant, h.RevokeTenantRole)).Methods("DELETE")
}

// CheckRequest asks about the current identity
type CheckRequest struct {
	Permission string     `json:"permission"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
}

// CheckResponse is the decision
type CheckResponse struct {
	Allowed    bool       `json:"allowed"`
	Permission Permission `json:"permission"`
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
}

// Check answers whether the caller holds a permission
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	permission, err := ParsePermission(req.Permission)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	tenant := NoTenant
	if req.TenantID != nil {
		tenant = InTenant(*req.TenantID)
	}

	allowed, err := h.authorizer.Authorize(r.Context(), identity.UserID, permission, tenant)
	if err != nil {
		WriteDecisionError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, CheckResponse{
		Allowed:    allowed,
		Permission: permission,
		TenantID:   req.TenantID,
	})
}

// ListGrantedPermissions returns the caller's effective permissions, optionally in a tenant
func (h *Handlers) ListGrantedPermissions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	tenantID, scoped, err := httputil.ParseQueryUUID(r, "tenant_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	tenant := NoTenant
	if scoped {
		tenant = InTenant(tenantID)
	}

	granted, err := h.permissions.GrantedPermissions(r.Context(), identity.UserID, tenant)
	if err != nil {
		WriteDecisionError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": granted.Sorted(),
	})
}

// ListRoles returns the permission set of every catalog role
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.ListRolePermissionSets(r.Context())
	if err != nil {
		h.internalError(w, r, err, "Failed to list role permissions")
		return
	}

	byRole := make(map[Role]RolePermissionSet, len(stored))
	for _, set := range stored {
		byRole[set.Role] = set
	}

	out := make([]RolePermissionSet, 0, len(roleCatalog))
	for _, role := range Roles() {
		set, ok := byRole[role]
		if !ok {
			set = RolePermissionSet{Role: role, Permissions: make(PermissionSet)}
		}
		out = append(out, set)
	}

	httputil.WriteSuccess(w, out)
}

// PutRoleRequest replaces a role's permission set
type PutRoleRequest struct {
	Permissions PermissionSet `json:"permissions"`
	Notes       string        `json:"notes"`
}

// PutRole replaces the permission set of a role
func (h *Handlers) PutRole(w http.ResponseWriter, r *http.Request) {
	raw, err := httputil.ParsePathString(r, "role")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	role, err := ParseRole(raw)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req PutRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		req.Permissions = make(PermissionSet)
	}

	set := &RolePermissionSet{Role: role, Permissions: req.Permissions, Notes: req.Notes}
	if err := h.store.PutRolePermissions(r.Context(), set); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		if err := h.invalidator.Invalidate(r.Context(), role); err != nil {
			observability.FromContext(r.Context()).WithError(err).WithField("role", role).
				Warn("Failed to invalidate cached role permissions")
		}
	}

	httputil.WriteSuccess(w, set)
}

// AssignRoleRequest grants a role to a user
type AssignRoleRequest struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   string         `json:"role,omitempty"`
	Kind   AssignmentKind `json:"kind,omitempty"`
}

func (req AssignRoleRequest) toAssignment(scope Scope, grantedBy uuid.UUID) (*RoleAssignment, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.New("user_id is required")
	}

	assignment := &RoleAssignment{
		UserID:    req.UserID,
		Scope:     scope,
		Kind:      req.Kind,
		GrantedBy: &grantedBy,
	}
	if assignment.Kind == "" {
		assignment.Kind = KindDefault
	}
	if req.Role != "" {
		role, err := ParseRole(req.Role)
		if err != nil {
			return nil, err
		}
		assignment.Role = role
	}
	if err := assignment.Validate(); err != nil {
		return nil, err
	}
	return assignment, nil
}

// AssignGlobalRole grants a system-wide role
func (h *Handlers) AssignGlobalRole(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, GlobalScope())
}

// AssignTenantRole grants a role inside the tenant in the path. The user must
// be a member of the tenant.
func (h *Handlers) AssignTenantRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	h.assign(w, r, TenantScope(tenantID))
}

func (h *Handlers) assign(w http.ResponseWriter, r *http.Request, scope Scope) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	assignment, err := req.toAssignment(scope, identity.UserID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if tenantID, scoped := scope.TenantID(); scoped && h.members != nil {
		member, err := h.members.IsMember(r.Context(), tenantID, assignment.UserID)
		if err != nil {
			h.internalError(w, r, err, "Failed to check tenant membership")
			return
		}
		if !member {
			httputil.WriteBadRequest(w, "user is not a member of the tenant")
			return
		}
	}

	if err := h.store.AssignRole(r.Context(), assignment); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"assignment_id": assignment.ID.String(),
		"target_user":   assignment.UserID.String(),
		"role":          string(assignment.Role),
		"scope":         scope.String(),
	}).Info("Role assigned")

	httputil.WriteCreated(w, assignment)
}

// RevokeGlobalRole removes a system-wide assignment
func (h *Handlers) RevokeGlobalRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "assignment_id")
	if !ok {
		return
	}

	assignment, err := h.store.GetAssignment(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if !assignment.Scope.IsGlobal() {
		httputil.WriteNotFound(w, ErrAssignmentNotFound.Error())
		return
	}

	if err := h.store.RevokeAssignment(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RevokeTenantRole removes an assignment belonging to the tenant in the path
func (h *Handlers) RevokeTenantRole(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathUUIDOrError(w, r, "assignment_id")
	if !ok {
		return
	}

	if err := h.store.RevokeTenantAssignment(r.Context(), tenantID, id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListTenantRoles lists the assignments scoped to the tenant in the path
func (h *Handlers) ListTenantRoles(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	assignments, err := h.store.ListTenantAssignments(r.Context(), tenantID)
	if err != nil {
		h.internalError(w, r, err, "Failed to list tenant assignments")
		return
	}
	if assignments == nil {
		assignments = []RoleAssignment{}
	}
	httputil.WriteSuccess(w, assignments)
}

// ListUserAssignments lists every assignment of a user
func (h *Handlers) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	assignments, err := h.store.ListUserAssignments(r.Context(), userID)
	if err != nil {
		h.internalError(w, r, err, "Failed to list user assignments")
		return
	}
	if assignments == nil {
		assignments = []RoleAssignment{}
	}
	httputil.WriteSuccess(w, assignments)
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsConfigurationError(err), errors.Is(err, ErrRoleRequired), errors.Is(err, ErrReferenceNotFound):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrAssignmentExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrAssignmentNotFound), errors.Is(err, sql.ErrNoRows):
		httputil.WriteNotFound(w, ErrAssignmentNotFound.Error())
	default:
		h.internalError(w, r, err, "RBAC store operation failed")
	}
}

func (h *Handlers) internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	observability.FromContext(r.Context()).WithError(err).Error(msg)
	httputil.WriteInternalError(w)
}
