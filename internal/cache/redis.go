package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"finstats/internal/log"
)

const opTimeout = 2 * time.Second

// RedisCache is a Cache backed by Redis, shared between server replicas.
// Keys carry a version number; Clear bumps the version so every previously
// written key becomes unreachable and expires on its own TTL.
type RedisCache[T any] struct {
	client     *redis.Client
	prefix     string
	versionKey string
	ttl        time.Duration
	logger     *log.Logger
}

// NewRedisCache creates a cache whose keys live under prefix.
func NewRedisCache[T any](client *redis.Client, prefix string, ttl time.Duration, logger *log.Logger) *RedisCache[T] {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	prefix = strings.TrimSuffix(prefix, ":")
	return &RedisCache[T]{
		client:     client,
		prefix:     prefix,
		versionKey: prefix + ":version",
		ttl:        ttl,
		logger:     logger.WithComponent(log.ComponentCache),
	}
}

// Version returns the current key version, initialising it when missing.
func (c *RedisCache[T]) Version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, c.versionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
	}
	return ver, nil
}

func (c *RedisCache[T]) buildKey(ctx context.Context, key string) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", c.prefix, ver, key), nil
}

// Get retrieves a value; Redis errors are logged and reported as a miss.
func (c *RedisCache[T]) Get(key string) (T, bool) {
	var zero T
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	full, err := c.buildKey(ctx, key)
	if err != nil {
		c.logger.Warn("Redis version lookup failed", log.FieldError, err)
		return zero, false
	}
	raw, err := c.client.Get(ctx, full).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis get failed", "key", key, log.FieldError, err)
		}
		return zero, false
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("Redis payload decode failed", "key", key, log.FieldError, err)
		return zero, false
	}
	return out, true
}

// Set stores a value with the cache TTL.
func (c *RedisCache[T]) Set(key string, data T) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("Redis payload encode failed", "key", key, log.FieldError, err)
		return
	}
	full, err := c.buildKey(ctx, key)
	if err != nil {
		c.logger.Warn("Redis version lookup failed", log.FieldError, err)
		return
	}
	if err := c.client.Set(ctx, full, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", "key", key, log.FieldError, err)
	}
}

// Delete removes a key from the current version.
func (c *RedisCache[T]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	full, err := c.buildKey(ctx, key)
	if err != nil {
		return
	}
	if err := c.client.Del(ctx, full).Err(); err != nil {
		c.logger.Warn("Redis delete failed", "key", key, log.FieldError, err)
	}
}

// Clear bumps the key version.
func (c *RedisCache[T]) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := c.Version(ctx); err != nil {
		c.logger.Warn("Redis version lookup failed", log.FieldError, err)
		return
	}
	ver, err := c.client.Incr(ctx, c.versionKey).Result()
	if err != nil {
		c.logger.Warn("Redis version bump failed", log.FieldError, err)
		return
	}
	c.logger.Debug("Cache version bumped", "version", ver)
}

// Size counts the keys of the current version.
func (c *RedisCache[T]) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ver, err := c.Version(ctx)
	if err != nil {
		return 0
	}
	pattern := fmt.Sprintf("%s:%d:*", c.prefix, ver)
	n := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n
}

// CleanExpired is a no-op: Redis expires keys itself.
func (c *RedisCache[T]) CleanExpired() int {
	return 0
}

// Ping checks connectivity, used by the readiness probe.
func (c *RedisCache[T]) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
