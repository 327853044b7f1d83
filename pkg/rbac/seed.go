package rbac

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a role permission seed:
//
//	roles:
//	  - role: tenant_moderator
//	    permissions: [tenants.members.view, tenants.members.invite]
//	    notes: Manages tenant membership.
type SeedFile struct {
	Roles []SeedRole `yaml:"roles"`
}

// SeedRole is one entry of a seed file
type SeedRole struct {
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
	Notes       string   `yaml:"notes,omitempty"`
}

// RolePermissionWriter stores role permission sets
type RolePermissionWriter interface {
	PutRolePermissions(ctx context.Context, set *RolePermissionSet) error
}

// Invalidator drops cached copies of a role's set
type Invalidator interface {
	Invalidate(ctx context.Context, role Role) error
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string) ([]RolePermissionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed validates seed YAML. Unknown roles or permissions are configuration
// errors, and a role may appear only once.
func ParseSeed(data []byte) ([]RolePermissionSet, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[Role]bool, len(file.Roles))
	sets := make([]RolePermissionSet, 0, len(file.Roles))
	for i, entry := range file.Roles {
		role, err := ParseRole(entry.Role)
		if err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
		if seen[role] {
			return nil, fmt.Errorf("seed entry %d: role %s listed twice", i, role)
		}
		seen[role] = true

		perms := make(PermissionSet, len(entry.Permissions))
		for _, raw := range entry.Permissions {
			p, err := ParsePermission(raw)
			if err != nil {
				return nil, fmt.Errorf("seed entry %d (%s): %w", i, role, err)
			}
			perms.Add(p)
		}

		sets = append(sets, RolePermissionSet{Role: role, Permissions: perms, Notes: entry.Notes})
	}
	return sets, nil
}

// ApplySeed writes every set and invalidates its cached copy. invalidator may be nil.
func ApplySeed(ctx context.Context, writer RolePermissionWriter, invalidator Invalidator, sets []RolePermissionSet) error {
	for i := range sets {
		if err := writer.PutRolePermissions(ctx, &sets[i]); err != nil {
			return err
		}
		if invalidator != nil {
			if err := invalidator.Invalidate(ctx, sets[i].Role); err != nil {
				return err
			}
		}
	}
	return nil
}

// SeedDefaultsIfEmpty applies DefaultRolePermissions when no set is stored yet.
// It reports whether anything was written.
func SeedDefaultsIfEmpty(ctx context.Context, store *Store) (bool, error) {
	n, err := store.CountRolePermissionSets(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	return true, ApplySeed(ctx, store, nil, DefaultRolePermissions())
}
