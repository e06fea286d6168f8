// internal/auth/middleware.go
// HTTP authentication middleware for the REST surface

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/servicelink/marketplace-backend/internal/common/utils"
)

// Middleware provides authentication middleware
type Middleware struct {
	verifier Verifier
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(verifier Verifier) *Middleware {
	return &Middleware{
		verifier: verifier,
	}
}

// Authenticate verifies the bearer token and adds the resolved identity to
// the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.extractToken(r)
		if token == "" {
			utils.ErrorResponse(w, "Missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		identity, err := m.verifier.Verify(token)
		if err != nil {
			utils.ErrorResponse(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", identity.UserID)
		ctx = context.WithValue(ctx, "username", identity.Username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken extracts the JWT token from the Authorization header.
// Supports "Bearer <token>" format.
func (m *Middleware) extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}

// GetUserIDFromContext extracts user ID from request context
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value("userID").(int64)
	return userID, ok
}

// GetUsernameFromContext extracts username from request context
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value("username").(string)
	return username, ok
}
