package ctxkeys

import (
	"context"

	"github.com/armiapp/armi/internal/model"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	UserKey    contextKey = "user"
	SessionKey contextKey = "session"
)

func User(ctx context.Context) *model.User {
	user, _ := ctx.Value(UserKey).(*model.User)
	return user
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

func Session(ctx context.Context) *model.Session {
	session, _ := ctx.Value(SessionKey).(*model.Session)
	return session
}

// WithSession stores the session and its user.
func WithSession(ctx context.Context, session *model.Session) context.Context {
	ctx = context.WithValue(ctx, SessionKey, session)
	return WithUser(ctx, session.User)
}
