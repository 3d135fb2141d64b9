package handlers

import (
	"net/http"
	"strings"

	"github.com/maneesh/cloudchest/internal/models"
)

// TokenValidator is the boundary to the authentication service. The upload
// subsystem only needs a yes/no answer for a bearer credential; issuing and
// revoking tokens happens elsewhere.
type TokenValidator interface {
	ValidateToken(token string) bool
}

// StaticTokenValidator accepts a single shared secret. It stands in for the
// real auth service in single-tenant deployments; an empty secret disables
// authentication entirely (local development).
type StaticTokenValidator struct {
	Secret string
}

func (v StaticTokenValidator) ValidateToken(token string) bool {
	if v.Secret == "" {
		return true
	}
	return token == v.Secret
}

// AuthMiddleware rejects requests without a valid bearer token.
func AuthMiddleware(validator TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || !validator.ValidateToken(parts[1]) {
			writeError(w, http.StatusUnauthorized, models.ErrorResponse{
				Error: "missing or invalid bearer token",
				Code:  models.ErrCodeValidation,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds permissive cross-origin headers to every response and
// handles OPTIONS preflight requests, so browser clients can drive the
// upload protocol directly.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Content-Length")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
