package middleware

import (
	"context"

	"github.com/oktamcp/mcp-okta/internal/introspect"
)

// contextKey is a custom type for context keys to avoid collisions with
// other packages that might use string keys. Using a struct pointer ensures
// uniqueness since each instance has a unique memory address.
type contextKey struct{ name string }

var (
	// accessTokenCtxKey is the context key for the verified access token.
	accessTokenCtxKey = &contextKey{"access-token"}
)

// WithAccessToken stores the verified access token in the context.
func WithAccessToken(ctx context.Context, token *introspect.AccessToken) context.Context {
	return context.WithValue(ctx, accessTokenCtxKey, token)
}

// AccessTokenFrom returns the verified access token stored in the context.
func AccessTokenFrom(ctx context.Context) (*introspect.AccessToken, bool) {
	token, ok := ctx.Value(accessTokenCtxKey).(*introspect.AccessToken)
	return token, ok && token != nil
}

// Token gets the raw bearer token from the context.
//
// Returns empty string if no token is found.
func Token(ctx context.Context) string {
	if token, ok := AccessTokenFrom(ctx); ok {
		return token.Token
	}

	return ""
}
