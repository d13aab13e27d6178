package auth

import (
	"context"
	"slices"
	"strings"
)

// Role constants used when checking authorisation boundaries.
const (
	RoleUser     = "user"
	RoleAdmin    = "admin"
	RoleDelivery = "delivery"
)

// Identity is the authenticated principal extracted from a Firebase ID token.
type Identity struct {
	UID    string
	Email  string
	Name   string
	Roles  []string
	Locale string
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.Contains(i.Roles, role)
}

// HasAnyRole reports whether the identity includes any of roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// Actor returns the audit label recorded in order status history.
func (i *Identity) Actor() string {
	if i == nil {
		return "system"
	}
	switch {
	case i.HasRole(RoleAdmin):
		return "admin:" + i.UID
	case i.HasRole(RoleDelivery):
		return "delivery:" + i.UID
	default:
		return "customer:" + i.UID
	}
}

type identityContextKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
