// Package rbac is the multi-tenant role-based access control engine of tenantgate.
//
// # Overview
//
// Given a user, a permission and an optional tenant, the Engine answers one
// question: may this user do this here? It composes two stores, the role
// assignments of the user and the permission set of each role, and holds no
// state of its own.
//
// # Catalogs
//
// Permissions and roles are closed sets. Strings from outside are parsed at
// the boundary and anything unknown is a configuration error, never a denial:
//
//	p, err := rbac.ParsePermission("tenants.members.invite")
//	if errors.Is(err, rbac.ErrUnknownPermission) { ... }
//
// Permissions are namespaced by their first segment. Each namespace has a
// wildcard (system.all, tenants.all) that is stored like any other permission
// and grants every permission of its own namespace only.
//
// # Assignments
//
// A RoleAssignment binds a role to a user either globally or inside one
// tenant. Global assignments apply in every tenant. Assignments are of kind
// default or custom; custom assignments are stored but never consulted.
//
// Scope (where an assignment applies) and TenantContext (what a question is
// about) are different types even though both can be "no tenant".
//
// # Decisions
//
//	engine := rbac.NewEngine(store, cachedSets)
//	allowed, err := engine.Authorize(ctx, userID, rbac.PermTenantsMembersInvite, rbac.InTenant(tenantID))
//
// Three rules, checked in order:
//
//  1. tenants.create looks only at global roles, and the user must hold at
//     least one. Tenant roles cannot exist before the tenant does.
//  2. system.* looks only at global roles, whatever tenant was passed.
//  3. Everything else looks at global roles plus roles in the given tenant.
//
// The permission is granted when the union of the matched roles' sets holds
// it or its namespace wildcard. A denial is (false, nil). A store failure is
// a *DataAccessError, which callers must not treat as an allow.
//
// # Reader credential
//
// The engine's Store should be opened on the authz reader pool
// (postgres.ConnectionManager.AuthzReader), a login with SELECT on
// role_assignments and role_permissions only (the tenantgate_authz role).
// Request handlers never see that pool.
//
// # Caching
//
// CachedPermissionSets sits between the engine and the store. It keeps role
// sets in an expiring LRU, optionally backed by Redis, collapses concurrent
// misses and broadcasts invalidations over Redis pub/sub:
//
//	sets := rbac.NewCachedPermissionSets(readerStore, redisClient, rbac.DefaultCacheConfig(), metrics)
//	go sets.Listen(ctx)
//
// # HTTP
//
// PermissionMiddleware gates handlers on a decision for the identity placed on
// the request by the auth middleware. Handlers exposes decision queries, role
// permission sets and assignments under /v1.
package rbac
