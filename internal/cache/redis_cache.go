package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisCache[V any] struct {
	client *redis.Client
	prefix string
}

// NewRedisCache returns a redis-backed cache storing values as JSON.
// Lookup and store failures degrade to cache misses.
func NewRedisCache[V any](client *redis.Client, prefix string) Cache[V] {
	return &redisCache[V]{client: client, prefix: prefix}
}

func (c *redisCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return zero, false
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false
	}
	return value, true
}

func (c *redisCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.prefix+key, raw, ttl)
}

func (c *redisCache[V]) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, c.prefix+key)
}
