package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/lostfound/internal/auth"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type claimsKey struct{}

// GetClaims returns the validated token claims, or nil for anonymous requests.
func GetClaims(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

// Authenticate validates an optional bearer token. Requests without an
// Authorization header pass through anonymously; a present but invalid
// token is rejected with 401.
func Authenticate(validator TokenValidator, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				metrics.IncAuthFailures("malformed")
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Authorization header must be a bearer token")
				return
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, auth.ErrExpiredToken) {
					reason = "expired"
				}
				metrics.IncAuthFailures(reason)
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = SetUserID(ctx, claims.Subject)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests that did not authenticate with an admin
// token. It must run after Authenticate.
func RequireAdmin(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				metrics.IncAuthFailures("missing")
				writeJSONError(w, r.Context(), http.StatusUnauthorized, "auth_failed", "Authentication required")
				return
			}
			if !claims.IsAdmin() {
				metrics.IncAuthFailures("forbidden")
				writeJSONError(w, r.Context(), http.StatusForbidden, "forbidden", "Admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the {"error":{"code","message"}} envelope used by the
// API handlers.
func writeJSONError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(ctx, code))
	body := map[string]map[string]string{
		"error": {"code": code, "message": message},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
