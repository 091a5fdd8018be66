package auth

import (
	"context"
	"strings"
)

type identityKey struct{}

// Identity is the authenticated caller, resolved from a token.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// IdentityFromClaims maps validated claims to the caller identity.
func IdentityFromClaims(claims *CustomClaims) Identity {
	return Identity{UserID: claims.UserID, Username: claims.Username, Roles: claims.Roles}
}
