package collision

import (
	"context"
	"errors"
)

type ctxKey string

const ctxKeyUser ctxKey = "user_id"

var ErrNoCurrentUser = errors.New("no current user in context")

// WithUser stores the acting staff member's id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUser, userID)
}

// UserFromContext returns the acting staff member's id, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, _ := ctx.Value(ctxKeyUser).(string)
	return userID, userID != ""
}

func currentUser(ctx context.Context) (string, error) {
	userID, ok := UserFromContext(ctx)
	if !ok {
		return "", ErrNoCurrentUser
	}
	return userID, nil
}
