package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// TenantResolver extracts the tenant a request is asking about
type TenantResolver func(r *http.Request) (TenantContext, error)

// WithoutTenant resolves every request to NoTenant
func WithoutTenant(*http.Request) (TenantContext, error) {
	return NoTenant, nil
}

// TenantFromPath reads the tenant id from a gorilla/mux route variable
func TenantFromPath(key string) TenantResolver {
	return func(r *http.Request) (TenantContext, error) {
		raw := mux.Vars(r)[key]
		if raw == "" {
			return NoTenant, fmt.Errorf("missing path parameter: %s", key)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return NoTenant, fmt.Errorf("invalid tenant id: %s", raw)
		}
		return InTenant(id), nil
	}
}

// PermissionMiddleware gates handlers on a decision for the current identity
type PermissionMiddleware struct {
	authorizer Authorizer
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(authorizer Authorizer) *PermissionMiddleware {
	return &PermissionMiddleware{authorizer: authorizer}
}

// RequirePermission lets the request through only when the caller holds
// permission in the tenant the resolver returns
func (pm *PermissionMiddleware) RequirePermission(permission Permission, tenant TenantResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			tc, err := tenant(r)
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			allowed, err := pm.authorizer.Authorize(r.Context(), identity.UserID, permission, tc)
			if err != nil {
				WriteDecisionError(w, r, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteDecisionError maps an authorization error to a response: configuration
// errors are 400, store failures 503
func WriteDecisionError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())

	switch {
	case IsConfigurationError(err):
		logger.WithError(err).Warn("Rejected authorization request")
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrDataAccess):
		logger.WithError(err).Error("Authorization data unavailable")
		httputil.WriteServiceUnavailable(w, "authorization data unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.WithError(err).Warn("Authorization abandoned")
		httputil.WriteServiceUnavailable(w, "authorization timed out")
	default:
		logger.WithError(err).Error("Authorization failed")
		httputil.WriteInternalError(w)
	}
}
