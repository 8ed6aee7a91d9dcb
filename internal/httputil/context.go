package httputil

import (
	"context"
	"net/http"
)

type userIDKey struct{}

// WithUserID returns r carrying the authenticated user id.
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(ContextWithUserID(r.Context(), userID))
}

// ContextWithUserID stores the user id on a plain context, for callers
// outside the HTTP layer such as tests and background jobs.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID returns the user id set by the auth middleware, or "".
func GetUserID(r *http.Request) string {
	return UserIDFromContext(r.Context())
}

func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}
