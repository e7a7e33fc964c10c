package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResponseCache is an explicit TTL cache for expensive read endpoints,
// backed by Redis so every API replica shares one set of slots. Keys are
// derived from the request's normalized parameters, so differently
// filtered requests never collide.
type ResponseCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a cache with the given key prefix and TTL.
func New(client *redis.Client, prefix string, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResponseCache{client: client, prefix: prefix, ttl: ttl}
}

// Key renders a cache key from name/value parameter pairs, sorted so the
// same parameters always hit the same slot regardless of order.
func Key(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if params[name] == "" {
			continue
		}
		parts = append(parts, name+"="+params[name])
	}
	if len(parts) == 0 {
		return endpoint
	}
	return endpoint + "?" + strings.Join(parts, "&")
}

func (c *ResponseCache) redisKey(key string) string {
	return c.prefix + ":" + key
}

// Get unmarshals the cached value for key into dest. The second return is
// false on a miss.
func (c *ResponseCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	return true, nil
}

// Set stores value under key for the cache's TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.redisKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops one slot, used after writes that change the cached view.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.redisKey(key)).Err()
}

// InvalidateAll drops every slot under the cache's prefix.
func (c *ResponseCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
