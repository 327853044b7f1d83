package tenants

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

var (
	ErrInvalidName    = errors.New("tenants: name must be 3 to 10 lowercase letters")
	ErrInvalidIcon    = errors.New("tenants: unknown icon")
	ErrInvalidDisplay = errors.New("tenants: display name must be 1 to 100 characters")
	ErrNameTaken      = errors.New("tenants: name already taken")
	ErrTenantNotFound = errors.New("tenants: tenant not found")
	ErrMemberExists   = errors.New("tenants: user is already a member")
	ErrMemberNotFound = errors.New("tenants: membership not found")
	ErrUserNotFound   = errors.New("tenants: user has no profile")
)

var namePattern = regexp.MustCompile(`^[a-z]{3,10}$`)

// ValidateName checks a tenant name against ^[a-z]{3,10}$
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Icon is one of the fixed tenant icons
type Icon string

const (
	IconBuilding Icon = "building"
	IconRocket   Icon = "rocket"
	IconStar     Icon = "star"
	IconGlobe    Icon = "globe"
	IconShield   Icon = "shield"
	IconLeaf     Icon = "leaf"
	IconBolt     Icon = "bolt"
	IconHeart    Icon = "heart"
)

var iconSet = map[Icon]struct{}{
	IconBuilding: {}, IconRocket: {}, IconStar: {}, IconGlobe: {},
	IconShield: {}, IconLeaf: {}, IconBolt: {}, IconHeart: {},
}

// Icons returns every allowed icon
func Icons() []Icon {
	return []Icon{IconBuilding, IconRocket, IconStar, IconGlobe, IconShield, IconLeaf, IconBolt, IconHeart}
}

// Valid reports whether the icon is in the fixed set
func (i Icon) Valid() bool {
	_, ok := iconSet[i]
	return ok
}

// Tenant is an isolated workspace users can be members of
type Tenant struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	Icon        Icon       `json:"icon"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Member is a tenant membership joined with the member's profile
type Member struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CreateTenantRequest represents request to create a tenant
type CreateTenantRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        Icon   `json:"icon"`
}

// Validate checks name, display name and icon
func (r *CreateTenantRequest) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.DisplayName == "" {
		r.DisplayName = r.Name
	}
	if len(r.DisplayName) > 100 {
		return ErrInvalidDisplay
	}
	if !r.Icon.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIcon, string(r.Icon))
	}
	return nil
}

// UpdateTenantRequest represents request to update a tenant. The name is immutable.
type UpdateTenantRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Icon        *Icon   `json:"icon,omitempty"`
}

// Validate checks the fields that are set
func (r *UpdateTenantRequest) Validate() error {
	if r.DisplayName != nil && (*r.DisplayName == "" || len(*r.DisplayName) > 100) {
		return ErrInvalidDisplay
	}
	if r.Icon != nil && !r.Icon.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidIcon, string(*r.Icon))
	}
	return nil
}

// AddMemberRequest represents request to add a member
type AddMemberRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// IsValidationError reports whether err comes from request validation
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidName) || errors.Is(err, ErrInvalidIcon) || errors.Is(err, ErrInvalidDisplay)
}

// Service defines the interface for tenant and membership management
type Service interface {
	// Tenant CRUD
	CreateTenant(ctx context.Context, creator uuid.UUID, req *CreateTenantRequest) (*Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
	ListTenantsForUser(ctx context.Context, userID uuid.UUID) ([]*Tenant, error)
	UpdateTenant(ctx context.Context, id uuid.UUID, req *UpdateTenantRequest) (*Tenant, error)
	DeleteTenant(ctx context.Context, id uuid.UUID) error

	// Member management
	ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*Member, error)
	AddMember(ctx context.Context, tenantID, userID uuid.UUID) error
	RemoveMember(ctx context.Context, tenantID, userID uuid.UUID) error
	IsMember(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
}

// FromContext returns the tenant loaded by the tenant context middleware
func FromContext(ctx context.Context) (*Tenant, bool) {
	tenant, ok := ctx.Value(contextkeys.TenantKey).(*Tenant)
	return tenant, ok && tenant != nil
}
