package apikeys

import "context"

type contextKey string

const keyContextKey contextKey = "api_key"

// ContextWithKey attaches an authenticated key to the context
func ContextWithKey(ctx context.Context, key *Key) context.Context {
	return context.WithValue(ctx, keyContextKey, key)
}

// KeyFromContext retrieves the authenticated key, or nil if the
// request was not authenticated
func KeyFromContext(ctx context.Context) *Key {
	if key, ok := ctx.Value(keyContextKey).(*Key); ok {
		return key
	}
	return nil
}
