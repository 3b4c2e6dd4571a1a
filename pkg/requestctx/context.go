// Package requestctx provides context key helpers for propagating the identity
// of one provider request across package boundaries. It is intentionally
// zero-dependency so both pkg/modeladapter and pkg/engine can import it.
package requestctx

import "context"

type requestIDCtxKey struct{}

// WithRequestID returns a new context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey{}, id)
}

// RequestIDFromContext extracts the request ID from the context.
// Returns "" if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(requestIDCtxKey{}).(string)
	return v
}
