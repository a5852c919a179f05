// ABOUTME: Context helpers for carrying verified session claims.
// ABOUTME: Lets a caller scope one request to a specific user.
package auth

import "context"

type contextKey string

const claimsKey contextKey = "lifts-auth-claims"

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
