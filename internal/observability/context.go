package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	searchKeyKey contextKey = "search_key"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID adds the authenticated user ID to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext retrieves the authenticated user ID from context.
// Returns empty string for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSearchKey adds the active search key to the context.
func WithSearchKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, searchKeyKey, key)
}

// SearchKeyFromContext retrieves the active search key from context.
// Returns empty string if not present.
func SearchKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(searchKeyKey).(string); ok {
		return v
	}
	return ""
}
