// Package cache stores rendered QR images so repeated scans of the same code
// skip re-encoding.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qr:"

// QRCache stores PNG bytes keyed by code and pixel size.
type QRCache interface {
	Get(ctx context.Context, code string, size int) ([]byte, bool, error)
	Set(ctx context.Context, code string, size int, png []byte) error
}

// RedisQRCache implements QRCache using Redis.
type RedisQRCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQRCache creates a Redis-backed QR cache with the given entry TTL.
func NewRedisQRCache(client *redis.Client, ttl time.Duration) *RedisQRCache {
	return &RedisQRCache{client: client, ttl: ttl}
}

func (c *RedisQRCache) Get(ctx context.Context, code string, size int) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key(code, size)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get qr: %w", err)
	}
	return data, true, nil
}

func (c *RedisQRCache) Set(ctx context.Context, code string, size int, png []byte) error {
	if err := c.client.Set(ctx, key(code, size), png, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set qr: %w", err)
	}
	return nil
}

func key(code string, size int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, code, size)
}

// Noop is used when Redis is not configured. It never hits.
type Noop struct{}

func (Noop) Get(context.Context, string, int) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, int, []byte) error          { return nil }
