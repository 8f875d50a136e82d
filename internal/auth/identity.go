// Package auth handles passwords, session tokens and the request identity
// handed to services.
package auth

import (
	"context"

	"github.com/ivanstrassberg/storefront/internal/types"
)

// Identity is the caller as seen by the services. The zero value is an
// anonymous caller.
type Identity struct {
	UserID    string
	Role      types.Role
	SessionID string
}

func (i Identity) Authenticated() bool { return i.UserID != "" }

func (i Identity) IsAdmin() bool { return i.Authenticated() && i.Role == types.RoleAdmin }

// Owns reports whether the caller is the given user.
func (i Identity) Owns(userID string) bool { return i.Authenticated() && i.UserID == userID }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the auth middleware, or the
// anonymous identity.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKey{}).(Identity)
	return id
}
