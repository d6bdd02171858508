package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumenchat/lumenchat/pkg/auth"
	"github.com/lumenchat/lumenchat/pkg/contextkeys"
	"github.com/lumenchat/lumenchat/pkg/httputil"
	"github.com/lumenchat/lumenchat/pkg/observability"
)

// Auth authenticates requests with a Bearer ID token
type Auth struct {
	verifier auth.Verifier
	logger   *observability.Logger
}

// NewAuth creates an authentication middleware
func NewAuth(verifier auth.Verifier, logger *observability.Logger) *Auth {
	return &Auth{
		verifier: verifier,
		logger:   logger,
	}
}

// Handler wraps an HTTP handler with authentication. Verified claims and the
// user ID go into the request context under typed keys.
func (m *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.verifier.Verify(r.Context(), parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), contextkeys.AuthKey, claims)
		ctx = context.WithValue(ctx, contextkeys.UserIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFrom extracts verified claims from the request context
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(contextkeys.AuthKey).(*auth.Claims)
	return claims, ok
}

// UserID extracts the authenticated user ID from the request context
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(contextkeys.UserIDKey).(string)
	return userID, ok && userID != ""
}
