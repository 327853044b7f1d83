package rbac

// DefaultRolePermissions returns the built-in role permission map applied on
// first start
func DefaultRolePermissions() []RolePermissionSet {
	return []RolePermissionSet{
		{
			Role:        RoleSystemAdmin,
			Permissions: NewPermissionSet(PermSystemAll),
			Notes:       "Operates the platform. Holds no tenant permissions.",
		},
		{
			Role:        RoleAdministrator,
			Permissions: NewPermissionSet(PermTenantsAll),
			Notes:       "Full control of a tenant.",
		},
		{
			Role:        RoleTenantModerator,
			Permissions: NewPermissionSet(PermTenantsMembersView, PermTenantsMembersInvite),
			Notes:       "Manages tenant membership.",
		},
		{
			Role:        RoleMember,
			Permissions: NewPermissionSet(PermTenantsView, PermTenantsMembersView),
		},
		{
			Role:        RoleBasicUser,
			Permissions: NewPermissionSet(PermTenantsCreate),
			Notes:       "Granted globally at signup so users can create their first tenant.",
		},
	}
}
