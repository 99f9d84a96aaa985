package cache

import (
	"context"
	"time"
)

// FacetCache holds facet listings per group. Invalidate drops every facet of
// a group after its catalog changes.
type FacetCache interface {
	Get(ctx context.Context, group string, facet string) ([]string, bool, error)
	Set(ctx context.Context, group string, facet string, values []string, ttl time.Duration) error
	Invalidate(ctx context.Context, group string) error
}

type NoopFacetCache struct{}

func (NoopFacetCache) Get(_ context.Context, _ string, _ string) ([]string, bool, error) {
	return nil, false, nil
}

func (NoopFacetCache) Set(_ context.Context, _ string, _ string, _ []string, _ time.Duration) error {
	return nil
}

func (NoopFacetCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
