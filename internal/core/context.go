package core

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request-id"
	callerIDKey  contextKey = "caller-id"
)

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCallerID tags the context with the caller a dispatch is billed to.
func WithCallerID(ctx context.Context, callerID string) context.Context {
	if callerID == "" {
		return ctx
	}
	return context.WithValue(ctx, callerIDKey, callerID)
}

// GetCallerID returns the caller id set by WithCallerID, if any.
func GetCallerID(ctx context.Context) string {
	id, _ := ctx.Value(callerIDKey).(string)
	return id
}
