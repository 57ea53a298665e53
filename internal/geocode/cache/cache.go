// Package cache stores successful geocoding responses in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"pelias_geocoder/platform/config"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "geocode:response:"

// Redis is a response cache keyed by request URL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to the Redis instance in cfg. It returns nil, nil when
// caching is disabled.
func New(cfg config.CacheConfig, tlsInsecure bool) (*Redis, error) {
	if !cfg.IsCacheEnabled() {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if tlsInsecure {
		if opt.TLSConfig == nil {
			opt.TLSConfig = &tls.Config{}
		}
		opt.TLSConfig.InsecureSkipVerify = true
	}

	return NewWithClient(redis.NewClient(opt), cfg.GetCacheTTL()), nil
}

// NewWithClient wraps an existing redis client.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// Get returns the cached body for url.
func (c *Redis) Get(ctx context.Context, url string) ([]byte, bool, error) {
	body, err := c.rdb.Get(ctx, key(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Set stores body for url until the TTL expires.
func (c *Redis) Set(ctx context.Context, url string, body []byte) error {
	return c.rdb.Set(ctx, key(url), body, c.ttl).Err()
}

// Ping checks the connection.
func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.rdb.Close()
}

// key hashes the URL so provider keys never appear in Redis.
func key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}
