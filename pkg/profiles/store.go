package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// StoreConfig tunes the provisioning cache
type StoreConfig struct {
	// ProvisionedCacheSize bounds how many recently provisioned users are
	// remembered. Zero disables the cache.
	ProvisionedCacheSize int
	ProvisionedCacheTTL  time.Duration
}

// DefaultStoreConfig returns the settings used by the server
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		ProvisionedCacheSize: 10000,
		ProvisionedCacheTTL:  10 * time.Minute,
	}
}

// Store persists profiles with database/sql
type Store struct {
	db          *sql.DB
	provisioned *lru.LRU[uuid.UUID, struct{}]
}

// NewStore creates a profile store
func NewStore(db *sql.DB, config StoreConfig) *Store {
	s := &Store{db: db}
	if config.ProvisionedCacheSize > 0 {
		s.provisioned = lru.NewLRU[uuid.UUID, struct{}](config.ProvisionedCacheSize, nil, config.ProvisionedCacheTTL)
	}
	return s
}

// Provision inserts a profile for identity unless one exists. Existing
// profiles are never overwritten from token claims.
func (s *Store) Provision(ctx context.Context, identity *auth.Identity) error {
	if s.provisioned != nil && s.provisioned.Contains(identity.UserID) {
		return nil
	}

	profile := profileFromIdentity(identity)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, email, first_name, last_name, display_name, locale, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`, profile.UserID, profile.Email, profile.FirstName, profile.LastName, profile.DisplayName, profile.Locale, profile.CreatedAt, profile.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to provision profile: %w", err)
	}

	if s.provisioned != nil {
		s.provisioned.Add(identity.UserID, struct{}{})
	}
	return nil
}

func profileFromIdentity(identity *auth.Identity) *Profile {
	profile := &Profile{
		UserID:      identity.UserID,
		Email:       truncate(identity.Email, maxEmailLength),
		FirstName:   truncate(identity.GivenName, maxNameLength),
		LastName:    truncate(identity.FamilyName, maxNameLength),
		DisplayName: identity.Name,
		Locale:      DefaultLocale,
		CreatedAt:   time.Now().UTC(),
	}

	if profile.DisplayName == "" {
		profile.DisplayName = strings.TrimSpace(identity.GivenName + " " + identity.FamilyName)
	}
	if profile.DisplayName == "" {
		profile.DisplayName = identity.Email
	}
	profile.DisplayName = truncate(profile.DisplayName, maxDisplayNameLength)

	if identity.Locale != "" {
		if locale, err := CanonicalLocale(identity.Locale); err == nil {
			profile.Locale = locale
		}
	}
	return profile
}

// truncate keeps at most n characters of s
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// Get retrieves a profile
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	profile := &Profile{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, first_name, last_name, display_name, locale, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&profile.UserID, &profile.Email, &profile.FirstName, &profile.LastName,
		&profile.DisplayName, &profile.Locale, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, nil
}

// Update changes the profile of userID. Only the owner may do this.
func (s *Store) Update(ctx context.Context, actor, userID uuid.UUID, req *UpdateProfileRequest) (*Profile, error) {
	if actor != userID {
		return nil, ErrNotOwner
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if req.FirstName != nil {
		setClauses = append(setClauses, fmt.Sprintf("first_name = $%d", argPos))
		args = append(args, *req.FirstName)
		argPos++
	}
	if req.LastName != nil {
		setClauses = append(setClauses, fmt.Sprintf("last_name = $%d", argPos))
		args = append(args, *req.LastName)
		argPos++
	}
	if req.DisplayName != nil {
		setClauses = append(setClauses, fmt.Sprintf("display_name = $%d", argPos))
		args = append(args, *req.DisplayName)
		argPos++
	}
	if req.Locale != nil {
		setClauses = append(setClauses, fmt.Sprintf("locale = $%d", argPos))
		args = append(args, *req.Locale)
		argPos++
	}

	if len(setClauses) == 0 {
		return s.Get(ctx, userID)
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE user_profiles SET %s WHERE user_id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

// Delete removes the profile of userID. The schema cascades the delete to
// memberships and every role assignment of the user.
func (s *Store) Delete(ctx context.Context, actor, userID uuid.UUID) error {
	if actor != userID {
		return ErrNotOwner
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if s.provisioned != nil {
		s.provisioned.Remove(userID)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrProfileNotFound
	}
	return nil
}
