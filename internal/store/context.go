package store

import (
	"context"
)

type contextKey string

const (
	// UserIDKey is the context key for the external user ID (free-form text).
	UserIDKey contextKey = "querydesk_user_id"
	// SessionIDKey is the context key for the conversation session ID.
	SessionIDKey contextKey = "querydesk_session_id"
	// ActorIDKey is the context key for the normalized memory actor ID.
	ActorIDKey contextKey = "querydesk_actor_id"
)

// WithUserID returns a new context with the given user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// UserIDFromContext extracts the user ID from context. Returns "" if not set.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a new context with the given session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// SessionIDFromContext extracts the session ID from context. Returns "" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActorID returns a new context with the given memory actor ID.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ActorIDKey, id)
}

// ActorIDFromContext extracts the memory actor ID from context. Returns "" if not set.
func ActorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ActorIDKey).(string); ok {
		return v
	}
	return ""
}
