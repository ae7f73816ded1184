// Package middleware provides HTTP middleware for authentication,
// CORS handling, rate limiting, and request context management.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/watchroom/backend/internal/logging"
	"github.com/watchroom/backend/internal/services"
)

type contextKey string

const (
	// ClaimsKey is the context key for storing JWT claims.
	ClaimsKey contextKey = "claims"
)

// AuthMiddleware validates JWT tokens and adds claims to the request context.
// Returns 401 for missing/invalid tokens. Streaming clients that cannot set
// headers may pass the token as an access_token query parameter instead.
func AuthMiddleware(authService *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, errEvent, errMsg := extractToken(r)
			if tokenString == "" {
				logging.LogSecurityEvent(r.Context(), errEvent, errMsg)
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateToken(tokenString)
			if err != nil {
				logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "invalid or expired token")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request) (token string, event logging.SecurityEvent, errMsg string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		// EventSource and browser WebSocket clients cannot set headers.
		if qt := r.URL.Query().Get("access_token"); qt != "" {
			return qt, "", ""
		}
		return "", logging.SecurityEventMissingAuth, "missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", logging.SecurityEventInvalidAuthFmt, "invalid authorization header format"
	}
	return parts[1], "", ""
}

// GetClaims retrieves the JWT claims from the request context.
// Returns nil if no claims are present (e.g., unauthenticated request).
func GetClaims(ctx context.Context) *services.Claims {
	claims, _ := ctx.Value(ClaimsKey).(*services.Claims)
	return claims
}
