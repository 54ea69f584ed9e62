package idtokenverifier

import (
	"context"
	"errors"
)

// ErrClaimsNotFound is returned by GetClaims when no claims are stored in
// the context.
var ErrClaimsNotFound = errors.New("claims not found in context")

// contextKey is an unexported type for context keys to prevent collisions
// with other packages.
type contextKey int

const claimsKey contextKey = iota

// SetClaims stores verified claims in the context. The middleware calls this
// after successful verification; custom transport adapters can do the same.
func SetClaims(ctx context.Context, claims any) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims retrieves claims from the context with type safety.
//
//	claims, err := idtokenverifier.GetClaims[*idtokenverifier.ValidatedClaims](r.Context())
func GetClaims[T any](ctx context.Context) (T, error) {
	var zero T

	val := ctx.Value(claimsKey)
	if val == nil {
		return zero, ErrClaimsNotFound
	}

	claims, ok := val.(T)
	if !ok {
		return zero, errors.New("claims type assertion failed")
	}
	return claims, nil
}

// HasClaims reports whether claims exist in the context.
func HasClaims(ctx context.Context) bool {
	return ctx.Value(claimsKey) != nil
}
