package common

import (
	"context"
)

// UserContext holds the authenticated identity for a request. It is placed in
// the request context by the bearer token middleware and read back by handlers,
// which pass the user id explicitly into every service call.
type UserContext struct {
	UserID   int64
	Username string
}

type contextKey int

const (
	userContextKey contextKey = iota
	correlationIDKey
)

// WithUserContext stores a UserContext in the request context.
func WithUserContext(ctx context.Context, uc *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

// UserContextFromContext retrieves the UserContext from context, or nil if absent.
func UserContextFromContext(ctx context.Context) *UserContext {
	uc, _ := ctx.Value(userContextKey).(*UserContext)
	return uc
}

// UserIDFromContext returns the authenticated user id and whether one is present.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	uc := UserContextFromContext(ctx)
	if uc == nil || uc.UserID <= 0 {
		return 0, false
	}
	return uc.UserID, true
}

// WithCorrelationID stores the request correlation id in context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the request correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
