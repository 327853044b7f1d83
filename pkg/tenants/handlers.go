package tenants

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Handlers serves tenant and membership endpoints
type Handlers struct {
	service Service
	gate    *rbac.PermissionMiddleware
}

// NewHandlers creates tenant handlers gated by authorizer
func NewHandlers(service Service, authorizer rbac.Authorizer) *Handlers {
	return &Handlers{
		service: service,
		gate:    rbac.NewPermissionMiddleware(authorizer),
	}
}

func (h *Handlers) require(permission rbac.Permission, tenant rbac.TenantResolver, fn http.HandlerFunc) http.Handler {
	return h.gate.RequirePermission(permission, tenant)(fn)
}

// RegisterRoutes registers tenant routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	inTenant := rbac.TenantFromPath("tenant_id")

	router.Handle("/tenants", h.require(rbac.PermTenantsCreate, rbac.WithoutTenant, h.CreateTenant)).Methods("POST")
	router.HandleFunc("/tenants", h.ListMyTenants).Methods("GET")
	router.Handle("/tenants/{tenant_id}", h.require(rbac.PermTenantsView, inTenant, h.GetTenant)).Methods("GET")
	router.Handle("/tenants/{tenant_id}", h.require(rbac.PermTenantsUpdate, inTenant, h.UpdateTenant)).Methods("PATCH")
	router.Handle("/tenants/{tenant_id}", h.require(rbac.PermTenantsDelete, inTenant, h.DeleteTenant)).Methods("DELETE")

	router.Handle("/tenants/{tenant_id}/members", h.require(rbac.PermTenantsMembersView, inTenant, h.ListMembers)).Methods("GET")
	router.Handle("/tenants/{tenant_id}/members", h.require(rbac.PermTenantsMembersInvite, inTenant, h.AddMember)).Methods("POST")
	router.Handle("/tenants/{tenant_id}/members/{user_id}", h.require(rbac.PermTenantsMembersRemove, inTenant, h.RemoveMember)).Methods("DELETE")

	router.Handle("/system/tenants", h.require(rbac.PermSystemTenantsView, rbac.WithoutTenant, h.ListAllTenants)).Methods("GET")
}

// CreateTenant creates a tenant owned by the caller
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CreateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.CreateTenant(r.Context(), identity.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithFields(map[string]interface{}{
		"tenant_id":   tenant.ID.String(),
		"tenant_name": tenant.Name,
	}).Info("Tenant created")

	httputil.WriteCreated(w, tenant)
}

// ListMyTenants lists the tenants the caller is a member of
func (h *Handlers) ListMyTenants(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	tenants, err := h.service.ListTenantsForUser(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenants)
}

// ListAllTenants lists every tenant for system operators
func (h *Handlers) ListAllTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListTenants(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenants)
}

// GetTenant returns the tenant in the path
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	if tenant, ok := FromContext(r.Context()); ok {
		httputil.WriteSuccess(w, tenant)
		return
	}

	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	tenant, err := h.service.GetTenant(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// UpdateTenant changes the display name or icon
func (h *Handlers) UpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var req UpdateTenantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	tenant, err := h.service.UpdateTenant(r.Context(), id, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, tenant)
}

// DeleteTenant removes the tenant and everything scoped to it
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	if err := h.service.DeleteTenant(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithField("tenant_id", id.String()).Info("Tenant deleted")
	httputil.WriteNoContent(w)
}

// ListMembers lists the members of the tenant in the path
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// AddMember adds a user to the tenant in the path
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	var req AddMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := h.service.AddMember(r.Context(), id, req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"tenant_id": id,
		"user_id":   req.UserID,
	})
}

// RemoveMember removes a member and revokes their roles in the tenant
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), id, userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidationError(err), errors.Is(err, ErrUserNotFound):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNameTaken), errors.Is(err, ErrMemberExists):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrMemberNotFound):
		httputil.WriteNotFound(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Tenant operation failed")
		httputil.WriteInternalError(w)
	}
}
