package middleware

import "context"

type authContextKey struct{}

// AuthContext carries the authenticated API key identity through a request.
type AuthContext struct {
	KeyID           int64
	Name            string
	Project         string
	RateLimitPerMin int
}

// GetAuthContext retrieves the AuthContext set by AuthenticateAPIKey, if any.
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)

	return ac, ok
}

// SetAuthContext stores the AuthContext on the request context.
func SetAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}
