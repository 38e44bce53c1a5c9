package middleware

import (
	"net/http"
	"strings"

	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

// ServiceAuth guards the process-to-process surfaces (queue API, callback
// receivers) with a single shared token. Only its bcrypt hash is held in
// memory; the peer sends the raw token as a Bearer header.
type ServiceAuth struct {
	tokenHash []byte
}

// NewServiceAuth creates auth middleware from a bcrypt token hash.
func NewServiceAuth(tokenHash string) *ServiceAuth {
	return &ServiceAuth{tokenHash: []byte(tokenHash)}
}

// Require rejects requests whose Bearer token does not match the hash.
func (a *ServiceAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid service token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
