package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, audience,
	// issuer or expiry checks
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingSubject is returned for verified tokens without a sub claim
	ErrMissingSubject = errors.New("auth: token has no subject")
)

// Identity is a verified caller. UserID is the stable key every store uses.
type Identity struct {
	UserID     uuid.UUID `json:"user_id"`
	Issuer     string    `json:"issuer"`
	Subject    string    `json:"subject"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name,omitempty"`
	GivenName  string    `json:"given_name,omitempty"`
	FamilyName string    `json:"family_name,omitempty"`
	Locale     string    `json:"locale,omitempty"`
}

// Verifier turns a raw bearer token into a verified identity
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// WithIdentity stores the verified identity on the context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// IdentityFromContext returns the identity placed by the auth middleware
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

var subjectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:tenantgate:subject"))

// UserIDForSubject maps an issuer/subject pair to a user id. Subjects that
// already are UUIDs are used as-is; anything else gets a stable name-based id.
func UserIDForSubject(issuer, subject string) uuid.UUID {
	if id, err := uuid.Parse(subject); err == nil {
		return id
	}
	return uuid.NewSHA1(subjectNamespace, []byte(issuer+"|"+subject))
}
