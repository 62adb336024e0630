package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

// actorKey is the key used to store the authenticated caller in the request context.
const actorKey = contextKey("actor")

// WithActor returns a copy of ctx carrying the authenticated caller.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActorFromContext retrieves the authenticated caller set by AuthMiddleware.
// It returns the actor and a boolean indicating if it was found.
func GetActorFromContext(c *gin.Context) (string, bool) {
	actor, ok := c.Request.Context().Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}
