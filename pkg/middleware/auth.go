package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Provisioner makes sure a profile row exists for a verified identity.
// Role assignments reference profiles, so this runs before any handler.
type Provisioner interface {
	Provision(ctx context.Context, identity *auth.Identity) error
}

// AuthMiddleware verifies bearer tokens and places the identity on the context
type AuthMiddleware struct {
	verifier    auth.Verifier
	provisioner Provisioner
	optional    bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware. provisioner may be nil.
func NewAuthMiddleware(verifier auth.Verifier, provisioner Provisioner, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:    verifier,
		provisioner: provisioner,
		optional:    optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Debug("Rejected bearer token")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID.String())

		if m.provisioner != nil {
			if err := m.provisioner.Provision(ctx, identity); err != nil {
				observability.FromContext(ctx).WithError(err).Error("Failed to provision user profile")
				httputil.WriteServiceUnavailable(w, "identity provisioning unavailable")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the verified identity from a request
func GetIdentity(r *http.Request) *auth.Identity {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	return identity
}
