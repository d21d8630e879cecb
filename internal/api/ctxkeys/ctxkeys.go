// Package ctxkeys holds the request context keys shared by the API middleware
// and handlers. It is a leaf package so both can import it without a cycle.
package ctxkeys

import (
	"context"
	"errors"
)

// Key is the named type for all API context keys. context.Value compares both
// type and value, so these never collide with plain string keys.
type Key string

const (
	// SessionID is the tutor session bound to the caller's token.
	SessionID Key = "session_id"

	// UserID is the authenticated user.
	UserID Key = "user_id"

	// Role is the user's directory role.
	Role Key = "role"
)

// ErrMissingSession is returned when no session id was injected into the context.
var ErrMissingSession = errors.New("missing session_id in context")

// WithValue adds a ctxkeys.Key value to the context.
func WithValue(ctx context.Context, key Key, value string) context.Context {
	return context.WithValue(ctx, key, value)
}

// String returns the value stored under key, or "" when absent.
func String(ctx context.Context, key Key) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// SessionIDFrom returns the caller's session id.
func SessionIDFrom(ctx context.Context) (string, error) {
	id := String(ctx, SessionID)
	if id == "" {
		return "", ErrMissingSession
	}
	return id, nil
}
