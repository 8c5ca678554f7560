// Package auth carries the verified caller through request contexts and
// issues the bearer tokens that establish it.
package auth

import "context"

type contextKey struct{}

// RoleAdmin may read and act on any user's records.
const RoleAdmin = "admin"

// AuthContext is the caller established by a verified bearer token. User ids
// are opaque strings issued by the hosted identity provider.
type AuthContext struct {
	UserID string
	Role   string
}

func (ac AuthContext) IsAdmin() bool {
	return ac.Role == RoleAdmin
}

// Owns reports whether the caller may act on records belonging to ownerID.
func (ac AuthContext) Owns(ownerID string) bool {
	if ac.UserID == "" {
		return false
	}
	return ac.UserID == ownerID || ac.IsAdmin()
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// UserID returns "" for an unauthenticated context.
func UserID(ctx context.Context) string {
	ac, _ := FromContext(ctx)
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, _ := FromContext(ctx)
	return ac.IsAdmin()
}

// CanAccess is Owns for the caller in ctx.
func CanAccess(ctx context.Context, ownerID string) bool {
	ac, _ := FromContext(ctx)
	return ac.Owns(ownerID)
}
