package auth

import "context"

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Identity Identity
	// Admin is true when the caller may use the admin console, either via
	// the allowlist, a console grant, or an API key.
	Admin bool
}

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// ContextWithPrincipal attaches the caller to the context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller attached by the authentication
// middleware, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
