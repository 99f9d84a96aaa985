package policy

import (
	"context"
	"strings"

	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/apperr"
	"github.com/FirozSkAhmad/dresscode-updated-sub000/internal/domain"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// RequireRole returns the caller when their role is one of roles.
func RequireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, apperr.Unauthorized("authentication required")
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, apperr.Forbidden("role %s is not permitted", actor.Role)
}

// RequireStoreManager returns the caller when they manage storeID.
func RequireStoreManager(ctx context.Context, storeID string) (domain.Actor, error) {
	actor, err := RequireRole(ctx, domain.RoleStoreManager)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.StoreID == "" || actor.StoreID != storeID {
		return domain.Actor{}, apperr.Forbidden("store mismatch")
	}
	return actor, nil
}
