package api

import "context"

// AuthMethod says how a caller proved who they are.
type AuthMethod string

const (
	AuthToken  AuthMethod = "token"  // Signed bearer or access_token query token
	AuthHeader AuthMethod = "header" // Unverified X-User-Id, development only
)

// Caller is the authenticated user of a request.
type Caller struct {
	UserID string
	Method AuthMethod
}

type callerKey struct{}

// CallerFromContext returns the caller stored by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)

	return c, ok
}

// UserIDFromContext returns the caller's user id, or "" outside an
// authenticated request.
func UserIDFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)

	return c.UserID
}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}
