package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest, "bad"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "who") }, http.StatusUnauthorized, "who"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "no") }, http.StatusForbidden, "no"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "gone") }, http.StatusNotFound, "gone"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "dup") }, http.StatusConflict, "dup"},
		{"too many", func(w http.ResponseWriter) { WriteTooManyRequests(w, "slow") }, http.StatusTooManyRequests, "slow"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "down") }, http.StatusServiceUnavailable, "down"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.msg, decodeError(t, w))
		})
	}
}

func TestWriteUnauthorized_SetsChallenge(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "missing token")
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]string{"id": "x"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"x"}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestParseJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		var p payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme"}`))
		require.NoError(t, ParseJSON(httptest.NewRecorder(), r, &p))
		assert.Equal(t, "acme", p.Name)
	})

	t.Run("unknown field", func(t *testing.T) {
		var p payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"acme","extra":1}`))
		assert.Error(t, ParseJSON(httptest.NewRecorder(), r, &p))
	})

	t.Run("empty body", func(t *testing.T) {
		var p payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		err := ParseJSON(httptest.NewRecorder(), r, &p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty body")
	})

	t.Run("or error writes 400", func(t *testing.T) {
		var p payload
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
		assert.False(t, ParseJSONOrError(w, r, &p))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestParsePathUUID(t *testing.T) {
	id := uuid.New()

	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"tenant_id": id.String()})
	got, err := ParsePathUUID(r, "tenant_id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"tenant_id": "acme"})
	w := httptest.NewRecorder()
	_, ok := ParsePathUUIDOrError(w, r, "tenant_id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err = ParsePathUUID(httptest.NewRequest(http.MethodGet, "/", nil), "tenant_id")
	assert.Error(t, err)
}

func TestParseQueryUUID(t *testing.T) {
	id := uuid.New()

	got, ok, err := ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/?tenant_id="+id.String(), nil), "tenant_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, got)

	_, ok, err = ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/", nil), "tenant_id")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseQueryUUID(httptest.NewRequest(http.MethodGet, "/?tenant_id=nope", nil), "tenant_id")
	assert.Error(t, err)
}
