package profiles

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Handlers serves the caller's own profile
type Handlers struct {
	service Service
}

// NewHandlers creates profile handlers
func NewHandlers(service Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers profile routes on an authenticated router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/profiles/me", h.GetMe).Methods("GET")
	router.HandleFunc("/profiles/me", h.UpdateMe).Methods("PUT")
	router.HandleFunc("/profiles/me", h.DeleteMe).Methods("DELETE")
}

// GetMe returns the caller's profile
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	profile, err := h.service.Get(r.Context(), identity.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// UpdateMe changes the caller's profile
func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	profile, err := h.service.Update(r.Context(), identity.UserID, identity.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// DeleteMe removes the caller's profile with every membership and role
// assignment that references it
func (h *Handlers) DeleteMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	if err := h.service.Delete(r.Context(), identity.UserID, identity.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).Info("Profile deleted")
	httputil.WriteNoContent(w)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case IsValidationError(err):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotOwner):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrProfileNotFound):
		httputil.WriteNotFound(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("Profile operation failed")
		httputil.WriteInternalError(w)
	}
}
