// Package tenants manages tenants and tenant membership.
//
// # Overview
//
// A tenant is an isolated workspace identified by a generated UUID and a
// unique short name matching ^[a-z]{3,10}$. Each tenant has a display name and
// one icon from a fixed set (building, rocket, star, globe, shield, leaf,
// bolt, heart).
//
// Membership is a (tenant, user) pair. It grants nothing by itself: what a
// member may do is decided by the tenant-scoped role assignments in pkg/rbac.
//
// # Lifecycle
//
// Creating a tenant is one transaction that inserts the tenant, the creator's
// membership and a tenant-scoped administrator assignment for the creator:
//
//	tenant, err := service.CreateTenant(ctx, creatorID, &tenants.CreateTenantRequest{
//		Name:        "acme",
//		DisplayName: "Acme Corp",
//		Icon:        tenants.IconRocket,
//	})
//
// Removing a member also revokes every role assignment the member holds in
// that tenant. Deleting a tenant removes its memberships and tenant-scoped
// assignments in the same transaction.
//
// # Related Packages
//
//   - pkg/rbac: Role assignments and the permission gate used by the handlers
//   - pkg/middleware: TenantContextMiddleware loads the tenant into the context
package tenants
