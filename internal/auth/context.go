package auth

import "context"

type ctxKey string

const (
	userContextKey    ctxKey = "taskhive.auth.user"
	sessionContextKey ctxKey = "taskhive.auth.session"
)

func withUserContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func withSessionContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// WithUser is used by tests and background jobs that act for a user.
func WithUser(ctx context.Context, u User) context.Context {
	return withUserContext(ctx, u)
}

func UserFromContext(ctx context.Context) (User, bool) {
	v := ctx.Value(userContextKey)
	u, ok := v.(User)
	return u, ok
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	v := ctx.Value(sessionContextKey)
	s, ok := v.(Session)
	return s, ok
}
