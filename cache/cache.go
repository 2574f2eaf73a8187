// Package cache provides the Redis-backed response cache. Assembled review
// envelopes are expensive to rebuild, so repeated requests for the same
// product within the freshness window are served from here.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces harvester entries in a shared Redis
const keyPrefix = "harvester:"

// Config contains Redis connection settings
type Config struct {
	Address  string // host:port; empty means caching is disabled
	Password string
	DB       int
}

// Cache is a TTL'd byte cache over Redis
type Cache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, config Config) (*Cache, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Get returns the cached value, or (nil, nil) when the key is absent
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}
	return data, nil
}

// Set stores a value with a TTL
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (c *Cache) Close() error {
	return c.client.Close()
}
