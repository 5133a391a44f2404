// ABOUTME: Identity propagation for tracking the authenticated principal through handlers
// ABOUTME: Provides WithIdentity/IdentityFrom for carrying the identity via context

package auth

import (
	"context"
)

// identityKey is the key type for storing the identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the authenticated identity attached.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom retrieves the authenticated identity from the context.
// Returns the empty string if no identity is attached.
func IdentityFrom(ctx context.Context) string {
	val := ctx.Value(identityKey{})
	if val == nil {
		return ""
	}
	identity, ok := val.(string)
	if !ok {
		return ""
	}
	return identity
}
