package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when an operation needs a caller identity
// and the context carries none.
var ErrUnauthenticated = errors.New("unauthenticated")

type userIDKey struct{}

// WithUserID returns a context carrying the authenticated caller.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated caller or ErrUnauthenticated.
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDKey{}).(string)
	if !ok || userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}
