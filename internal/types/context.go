package types

import (
	"context"
)

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// ActorRole is the coarse role carried in the access token.
type ActorRole string

const (
	RoleMember ActorRole = "member"
	RoleAdmin  ActorRole = "admin"
)

// Actor represents the authenticated entity performing an operation.
type Actor struct {
	ID    string
	Type  ActorType
	Role  ActorRole
	Email string
}

// IsAdmin reports whether the actor may operate on system-owned resources.
func (a Actor) IsAdmin() bool {
	return a.Type == ActorTypeSystem || a.Role == RoleAdmin
}

// CanAccessUser reports whether the actor may act on resources owned by userID.
func (a Actor) CanAccessUser(userID string) bool {
	if a.IsAdmin() {
		return true
	}
	return userID != "" && a.ID == userID
}

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
