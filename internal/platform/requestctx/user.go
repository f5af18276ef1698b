// Package requestctx carries the authenticated caller through request contexts.
package requestctx

import "context"

type userContextKey struct{}

// User is the caller identity resolved at the transport edge.
type User struct {
	ID       string
	Username string
}

// WithUser stores the caller identity in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the caller identity stored in ctx and whether one
// with a non-empty id was present.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userContextKey{}).(User)
	if !ok || user.ID == "" {
		return User{}, false
	}
	return user, true
}

// UserIDFromContext returns the caller id stored in ctx, or "".
func UserIDFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.ID
}
