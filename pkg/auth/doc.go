// Package auth verifies bearer tokens issued by the external OIDC identity
// provider and exposes the resulting user claims.
//
// The service never issues sessions itself; it only validates ID tokens:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth)
//	claims, err := verifier.Verify(ctx, rawToken)
package auth
