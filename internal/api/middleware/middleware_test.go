package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newAuth(t *testing.T, token string) *middleware.ServiceAuth {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return middleware.NewServiceAuth(string(hash))
}

func TestServiceAuth_ValidToken(t *testing.T) {
	auth := newAuth(t, "secret-token")
	h := auth.Require(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/check_queue", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServiceAuth_MissingHeader(t *testing.T) {
	auth := newAuth(t, "secret-token")
	h := auth.Require(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/check_queue", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceAuth_WrongToken(t *testing.T) {
	auth := newAuth(t, "secret-token")
	h := auth.Require(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/check_queue", nil)
	req.Header.Set("Authorization", "Bearer guessing")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceAuth_MalformedHeader(t *testing.T) {
	auth := newAuth(t, "secret-token")
	h := auth.Require(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/check_queue", nil)
	req.Header.Set("Authorization", "Basic secret-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecovery_TurnsPanicInto500(t *testing.T) {
	h := middleware.Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestLogger_PassesThrough(t *testing.T) {
	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
