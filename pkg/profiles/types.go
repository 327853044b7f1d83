package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"golang.org/x/text/language"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNotOwner        = errors.New("profiles can only be changed by their owner")
	ErrInvalidLocale   = errors.New("locale must be a BCP 47 language tag")
	ErrFieldTooLong    = errors.New("field too long")
)

// DefaultLocale is used when the identity provider sends no usable locale
const DefaultLocale = "en"

// Limits are in characters, matching the VARCHAR columns
const (
	maxEmailLength       = 320
	maxNameLength        = 100
	maxDisplayNameLength = 200
)

// Profile is the local record of a verified user. Role assignments and
// memberships reference it.
type Profile struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	DisplayName string    `json:"display_name"`
	Locale      string    `json:"locale"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpdateProfileRequest changes the fields that are set
type UpdateProfileRequest struct {
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
	Locale      *string `json:"locale,omitempty"`
}

// Validate checks field lengths and canonicalizes the locale in place
func (r *UpdateProfileRequest) Validate() error {
	if r.FirstName != nil && utf8.RuneCountInString(*r.FirstName) > maxNameLength {
		return fmt.Errorf("%w: first_name exceeds %d characters", ErrFieldTooLong, maxNameLength)
	}
	if r.LastName != nil && utf8.RuneCountInString(*r.LastName) > maxNameLength {
		return fmt.Errorf("%w: last_name exceeds %d characters", ErrFieldTooLong, maxNameLength)
	}
	if r.DisplayName != nil {
		name := strings.TrimSpace(*r.DisplayName)
		if utf8.RuneCountInString(name) > maxDisplayNameLength {
			return fmt.Errorf("%w: display_name exceeds %d characters", ErrFieldTooLong, maxDisplayNameLength)
		}
		r.DisplayName = &name
	}
	if r.Locale != nil {
		locale, err := CanonicalLocale(*r.Locale)
		if err != nil {
			return err
		}
		r.Locale = &locale
	}
	return nil
}

// CanonicalLocale parses a BCP 47 tag and returns its canonical form
func CanonicalLocale(raw string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(raw))
	if err != nil || tag == language.Und {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocale, raw)
	}
	return tag.String(), nil
}

// IsValidationError reports whether err was caused by bad input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidLocale) || errors.Is(err, ErrFieldTooLong)
}

// Service manages user profiles
type Service interface {
	Provision(ctx context.Context, identity *auth.Identity) error
	Get(ctx context.Context, userID uuid.UUID) (*Profile, error)
	Update(ctx context.Context, actor, userID uuid.UUID, req *UpdateProfileRequest) (*Profile, error)
	Delete(ctx context.Context, actor, userID uuid.UUID) error
}
