package rbac

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/rbac/rbactest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFixture struct {
	db    *sql.DB
	store *Store
}

func setupStore(t *testing.T) *storeFixture {
	t.Helper()
	db := rbactest.NewSQLiteDB(t)
	return &storeFixture{db: db, store: NewStore(db)}
}

func (f *storeFixture) user(t *testing.T) uuid.UUID {
	id := uuid.New()
	rbactest.CreateUser(t, f.db, id)
	return id
}

func (f *storeFixture) tenant(t *testing.T, name string) uuid.UUID {
	id := uuid.New()
	rbactest.CreateTenant(t, f.db, id, name)
	return id
}

func (f *storeFixture) assign(t *testing.T, user uuid.UUID, role Role, scope Scope, kind AssignmentKind) *RoleAssignment {
	t.Helper()
	a := &RoleAssignment{UserID: user, Role: role, Scope: scope, Kind: kind}
	require.NoError(t, f.store.AssignRole(context.Background(), a))
	return a
}

func TestStore_DefaultRoles(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	user := f.user(t)
	acme := f.tenant(t, "acme")
	other := f.tenant(t, "other")

	f.assign(t, user, RoleBasicUser, GlobalScope(), KindDefault)
	f.assign(t, user, RoleTenantModerator, TenantScope(acme), KindDefault)
	f.assign(t, user, RoleAdministrator, TenantScope(other), KindCustom)
	f.assign(t, user, RoleSystemAdmin, GlobalScope(), KindCustom)

	roles, err := f.store.DefaultRoles(ctx, user, NoTenant)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Role{RoleBasicUser}, roles)

	roles, err = f.store.DefaultRoles(ctx, user, InTenant(acme))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Role{RoleBasicUser, RoleTenantModerator}, roles)

	roles, err = f.store.DefaultRoles(ctx, user, InTenant(other))
	require.NoError(t, err)
	assert.ElementsMatch(t, []Role{RoleBasicUser}, roles, "custom assignments are never returned")

	has, err := f.store.HasGlobalDefaultRole(ctx, user)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = f.store.HasGlobalDefaultRole(ctx, f.user(t))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_HasGlobalDefaultRole_IgnoresCustomAndScoped(t *testing.T) {
	f := setupStore(t)

	user := f.user(t)
	f.assign(t, user, RoleSystemAdmin, GlobalScope(), KindCustom)
	f.assign(t, user, RoleMember, TenantScope(f.tenant(t, "acme")), KindDefault)

	has, err := f.store.HasGlobalDefaultRole(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_AssignmentUniqueness(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	user := f.user(t)
	acme := f.tenant(t, "acme")
	other := f.tenant(t, "other")

	f.assign(t, user, RoleMember, GlobalScope(), KindDefault)
	err := f.store.AssignRole(ctx, &RoleAssignment{UserID: user, Role: RoleMember, Scope: GlobalScope(), Kind: KindDefault})
	assert.ErrorIs(t, err, ErrAssignmentExists, "global duplicates collide")

	f.assign(t, user, RoleMember, TenantScope(acme), KindDefault)
	err = f.store.AssignRole(ctx, &RoleAssignment{UserID: user, Role: RoleMember, Scope: TenantScope(acme)})
	assert.ErrorIs(t, err, ErrAssignmentExists)

	f.assign(t, user, RoleMember, TenantScope(other), KindDefault)

	err = f.store.AssignRole(ctx, &RoleAssignment{UserID: user, Kind: KindDefault})
	assert.ErrorIs(t, err, ErrRoleRequired)

	err = f.store.AssignRole(ctx, &RoleAssignment{UserID: user, Role: "owner", Kind: KindDefault})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestStore_AssignRequiresExistingUser(t *testing.T) {
	f := setupStore(t)

	err := f.store.AssignRole(context.Background(), &RoleAssignment{UserID: uuid.New(), Role: RoleMember})
	assert.Error(t, err)
}

func TestStore_GetAndRevoke(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	user := f.user(t)
	granter := f.user(t)
	acme := f.tenant(t, "acme")

	a := &RoleAssignment{UserID: user, Role: RoleMember, Scope: TenantScope(acme), GrantedBy: &granter}
	require.NoError(t, f.store.AssignRole(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.Equal(t, KindDefault, a.Kind)

	got, err := f.store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.UserID, got.UserID)
	assert.Equal(t, RoleMember, got.Role)
	assert.Equal(t, TenantScope(acme), got.Scope)
	require.NotNil(t, got.GrantedBy)
	assert.Equal(t, granter, *got.GrantedBy)

	listed, err := f.store.ListTenantAssignments(ctx, acme)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	err = f.store.RevokeTenantAssignment(ctx, f.tenant(t, "other"), a.ID)
	assert.ErrorIs(t, err, ErrAssignmentNotFound, "assignment belongs to another tenant")

	require.NoError(t, f.store.RevokeTenantAssignment(ctx, acme, a.ID))
	_, err = f.store.GetAssignment(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)

	assert.ErrorIs(t, f.store.RevokeAssignment(ctx, a.ID), ErrAssignmentNotFound)
}

func TestStore_RevokeUserTenantAssignments(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	user := f.user(t)
	acme := f.tenant(t, "acme")
	f.assign(t, user, RoleMember, TenantScope(acme), KindDefault)
	f.assign(t, user, RoleTenantModerator, TenantScope(acme), KindDefault)
	f.assign(t, user, RoleBasicUser, GlobalScope(), KindDefault)

	require.NoError(t, RevokeUserTenantAssignments(ctx, f.db, acme, user))

	all, err := f.store.ListUserAssignments(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Scope.IsGlobal())
}

func TestStore_TenantDeleteCascades(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	user := f.user(t)
	acme := f.tenant(t, "acme")
	f.assign(t, user, RoleAdministrator, TenantScope(acme), KindDefault)

	_, err := f.db.Exec(`DELETE FROM tenants WHERE id = $1`, acme)
	require.NoError(t, err)

	listed, err := f.store.ListTenantAssignments(ctx, acme)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestStore_RolePermissions(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	set, err := f.store.RolePermissions(ctx, RoleMember)
	require.NoError(t, err)
	assert.Empty(t, set, "missing row is an empty set")

	require.NoError(t, f.store.PutRolePermissions(ctx, &RolePermissionSet{
		Role:        RoleMember,
		Permissions: NewPermissionSet(PermTenantsView),
		Notes:       "read only",
	}))
	require.NoError(t, f.store.PutRolePermissions(ctx, &RolePermissionSet{
		Role:        RoleMember,
		Permissions: NewPermissionSet(PermTenantsView, PermTenantsMembersView),
		Notes:       "read members too",
	}))

	stored, err := f.store.GetRolePermissionSet(ctx, RoleMember)
	require.NoError(t, err)
	assert.Equal(t, []Permission{PermTenantsMembersView, PermTenantsView}, stored.Permissions.Sorted())
	assert.Equal(t, "read members too", stored.Notes)

	n, err := f.store.CountRolePermissionSets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one row per role")

	err = f.store.PutRolePermissions(ctx, &RolePermissionSet{Role: "owner", Permissions: NewPermissionSet()})
	assert.ErrorIs(t, err, ErrUnknownRole)
	err = f.store.PutRolePermissions(ctx, &RolePermissionSet{Role: RoleMember, Permissions: NewPermissionSet("tenants.fly")})
	assert.ErrorIs(t, err, ErrUnknownPermission)
}

func TestStore_CorruptRowsAreConfigurationErrors(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	_, err := f.db.Exec(`INSERT INTO role_permissions (role, permissions) VALUES ('member', '["tenants.fly"]')`)
	require.NoError(t, err)
	_, err = f.store.RolePermissions(ctx, RoleMember)
	assert.ErrorIs(t, err, ErrUnknownPermission)

	user := f.user(t)
	_, err = f.db.Exec(`INSERT INTO role_assignments (id, user_id, role, kind) VALUES ($1, $2, 'owner', 'default')`, uuid.New(), user)
	require.NoError(t, err)
	_, err = f.store.DefaultRoles(ctx, user, NoTenant)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestEngine_OverStore(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	_, err := SeedDefaultsIfEmpty(ctx, f.store)
	require.NoError(t, err)

	engine := NewEngine(f.store, f.store)

	user := f.user(t)
	acme := f.tenant(t, "acme")
	other := f.tenant(t, "other")
	f.assign(t, user, RoleTenantModerator, TenantScope(acme), KindDefault)

	allowed, err := engine.Authorize(ctx, user, PermTenantsMembersInvite, InTenant(acme))
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = engine.Authorize(ctx, user, PermTenantsMembersInvite, InTenant(other))
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = engine.Authorize(ctx, user, PermTenantsCreate, NoTenant)
	require.NoError(t, err)
	assert.False(t, allowed)

	f.assign(t, user, RoleBasicUser, GlobalScope(), KindDefault)
	allowed, err = engine.Authorize(ctx, user, PermTenantsCreate, NoTenant)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestEngine_StoreFailureIsDataAccessError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cause := errors.New("connection reset by peer")
	mock.ExpectQuery("SELECT DISTINCT role FROM role_assignments").WillReturnError(cause)

	engine := NewEngine(NewStore(db), NewStore(db))
	allowed, err := engine.Authorize(context.Background(), uuid.New(), PermTenantsView, InTenant(uuid.New()))

	assert.False(t, allowed)
	assert.ErrorIs(t, err, ErrDataAccess)
	assert.ErrorIs(t, err, cause)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_BootstrapProbeFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").WillReturnError(sql.ErrConnDone)

	engine := NewEngine(NewStore(db), NewStore(db))
	_, err = engine.Authorize(context.Background(), uuid.New(), PermTenantsCreate, NoTenant)

	assert.ErrorIs(t, err, ErrDataAccess)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedDefaultsIfEmpty(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	wrote, err := SeedDefaultsIfEmpty(ctx, f.store)
	require.NoError(t, err)
	assert.True(t, wrote)

	sets, err := f.store.ListRolePermissionSets(ctx)
	require.NoError(t, err)
	assert.Len(t, sets, len(Roles()))

	wrote, err = SeedDefaultsIfEmpty(ctx, f.store)
	require.NoError(t, err)
	assert.False(t, wrote)
}
