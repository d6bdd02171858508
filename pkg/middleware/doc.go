// Package middleware provides HTTP middleware for authentication and rate
// limiting.
//
// Auth verifies the Bearer token on every request and places the resulting
// identity in the request context under typed keys (see pkg/contextkeys);
// handlers read the user ID from the context, never from ambient state:
//
//	authMW := middleware.NewAuth(verifier, logger)
//	router.Use(authMW.Handler)
//	userID, ok := middleware.UserID(r.Context())
package middleware
