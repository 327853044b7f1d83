package profiles

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/rbac/rbactest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, router *mux.Router, as *uuid.UUID, method string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/profiles/me", &buf)
	if as != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: *as}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	db := rbactest.NewSQLiteDB(t)
	router := mux.NewRouter()
	NewHandlers(NewStore(db, DefaultStoreConfig())).RegisterRoutes(router)

	me := uuid.New()
	rbactest.CreateUser(t, db, me)

	t.Run("anonymous", func(t *testing.T) {
		rec := serve(t, router, nil, http.MethodGet, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("get", func(t *testing.T) {
		rec := serve(t, router, &me, http.MethodGet, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var profile Profile
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&profile))
		assert.Equal(t, me, profile.UserID)
	})

	t.Run("update", func(t *testing.T) {
		rec := serve(t, router, &me, http.MethodPut, UpdateProfileRequest{FirstName: strPtr("Grace"), Locale: strPtr("en-us")})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var profile Profile
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&profile))
		assert.Equal(t, "Grace", profile.FirstName)
		assert.Equal(t, "en-US", profile.Locale)
	})

	t.Run("update with bad locale", func(t *testing.T) {
		rec := serve(t, router, &me, http.MethodPut, UpdateProfileRequest{Locale: strPtr("??")})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update with unknown field", func(t *testing.T) {
		rec := serve(t, router, &me, http.MethodPut, map[string]string{"user_id": uuid.NewString()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := serve(t, router, &me, http.MethodDelete, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = serve(t, router, &me, http.MethodGet, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
