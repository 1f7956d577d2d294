package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisCache is the shared cache used when several API instances run.
type RedisCache struct {
	client  *redis.Client
	release *redis.Script
}

// NewRedisCache wraps an initialized client.
func NewRedisCache(client *redis.Client) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client is not initialized")
	}
	return &RedisCache{client: client, release: redis.NewScript(releaseLockScript)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) DeleteBatch(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// DeleteAll removes every key matching pattern using SCAN.
func (c *RedisCache) DeleteAll(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (c *RedisCache) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

// ReleaseLock deletes key only if value still owns it.
func (c *RedisCache) ReleaseLock(ctx context.Context, key, value string) error {
	result, err := c.release.Run(ctx, c.client, []string{key}, value).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if n, ok := result.(int64); !ok || n == 0 {
		return errors.New("lock release failed: not the lock owner")
	}
	return nil
}
