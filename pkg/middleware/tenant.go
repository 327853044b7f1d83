package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/tenants"
)

// TenantLoader loads a tenant by ID
type TenantLoader interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*tenants.Tenant, error)
}

// TenantContextMiddleware adds the tenant named by the tenant_id route
// variable to the request context. Routes without the variable pass through.
func TenantContextMiddleware(loader TenantLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := mux.Vars(r)["tenant_id"]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			tenantID, err := uuid.Parse(raw)
			if err != nil {
				httputil.WriteBadRequest(w, "invalid tenant ID")
				return
			}

			tenant, err := loader.GetTenant(r.Context(), tenantID)
			if err != nil {
				if errors.Is(err, tenants.ErrTenantNotFound) {
					httputil.WriteNotFound(w, "tenant not found")
					return
				}
				observability.FromContext(r.Context()).WithError(err).
					WithField("tenant_id", tenantID.String()).Error("Failed to load tenant")
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithTenant(r.Context(), tenant)))
		})
	}
}
