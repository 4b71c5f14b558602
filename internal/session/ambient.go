package session

import "context"

// contextKey is unexported so no other package can construct a colliding
// key, following the ambient-identity pattern this package generalises
// from "authenticated identity" to "bound session id".
type contextKey struct{}

// WithSessionID returns a context carrying sessionID for the lifetime of a
// single request's handling. It must be established on the HTTP handler's
// stack frame and is not valid after that frame returns; background work
// spawned from a handler must capture any instance id it needs eagerly
// (spec.md §4.7).
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// SessionIDFromContext retrieves the session id set by WithSessionID, if
// any.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(contextKey{}).(string)
	return v, ok
}
