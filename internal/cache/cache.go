package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a string-keyed read-through cache. Implementations are never
// authoritative; every caller must stay correct with a cold or absent cache.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

type ttlCache[V any] struct {
	store *gocache.Cache
}

// NewTTLCache returns an in-memory cache with per-entry expiry.
func NewTTLCache[V any]() Cache[V] {
	return &ttlCache[V]{
		store: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (c *ttlCache[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	raw, ok := c.store.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

func (c *ttlCache[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	c.store.Set(key, value, ttl)
}

func (c *ttlCache[V]) Delete(_ context.Context, key string) {
	c.store.Delete(key)
}
