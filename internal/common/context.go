package common

import (
	"context"
)

// Context keys for storing values in context.
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyUser      contextKey = "auth_user"
)

// AuthUser is the identity resolved from the bearer token.
type AuthUser struct {
	ID   string
	Role string // "patient" | "doctor" | "admin"
}

// IsDoctor reports whether the user carries the doctor capability.
// Admins operate the platform and inherit it.
func (u AuthUser) IsDoctor() bool {
	return u.Role == "doctor" || u.Role == "admin"
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithAuthUser adds the authenticated user to the context.
func WithAuthUser(ctx context.Context, user AuthUser) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// AuthUserFromContext extracts the authenticated user from context.
func AuthUserFromContext(ctx context.Context) (AuthUser, bool) {
	user, ok := ctx.Value(ContextKeyUser).(AuthUser)
	return user, ok
}
