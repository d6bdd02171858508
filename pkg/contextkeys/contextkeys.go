// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/lumenchat/lumenchat/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.UserIDKey, claims.UserID)
//	userID, _ := ctx.Value(contextkeys.UserIDKey).(string)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.Claims
	// Set by: middleware.Auth (pkg/middleware/auth.go)
	// Required by: All session-authenticated endpoints
	AuthKey Key = "auth_claims"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.Auth after token verification
	// Used by: usage gate, subscription lookups, chat handlers, logger
	UserIDKey Key = "user_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	RequestIDKey Key = "request_id"
)
