package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisFacetCache keeps one hash per group, keyed by facet name, so a single
// DEL invalidates the whole group.
type RedisFacetCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisFacetCache(client *redis.Client) *RedisFacetCache {
	return &RedisFacetCache{client: client}
}

func groupKey(group string) string {
	return "facets:" + group
}

func (c *RedisFacetCache) Get(ctx context.Context, group string, facet string) ([]string, bool, error) {
	val, err := c.client.HGet(ctx, groupKey(group), facet).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var values []string
	if err := json.Unmarshal([]byte(val), &values); err != nil {
		return nil, false, err
	}
	return values, true, nil
}

func (c *RedisFacetCache) Set(ctx context.Context, group string, facet string, values []string, ttl time.Duration) error {
	payload, err := json.Marshal(values)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, groupKey(group), facet, payload)
	if ttl > 0 {
		pipe.Expire(ctx, groupKey(group), ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisFacetCache) Invalidate(ctx context.Context, group string) error {
	return c.client.Del(ctx, groupKey(group)).Err()
}
