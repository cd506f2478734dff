package middleware

import "context"

type callerKey struct{}

// caller is the authenticated seller behind an /api/v1 request.
type caller struct {
	userID string
	email  string
}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

func withCaller(ctx context.Context, c caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, c)
}

// UserIDFromContext returns the authenticated user id, or "" on public routes.
func UserIDFromContext(ctx context.Context) string { return callerFrom(ctx).userID }

func EmailFromContext(ctx context.Context) string { return callerFrom(ctx).email }

// WithUserID marks ctx as authenticated for userID. Used by Auth and by handler tests.
func WithUserID(ctx context.Context, userID string) context.Context {
	c := callerFrom(ctx)
	c.userID = userID
	return withCaller(ctx, c)
}
