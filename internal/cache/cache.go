// Package cache provides short-lived caching of expensive lookups such as
// captcha backend balances and dashboard statistics.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache interface for caching operations
type Cache interface {
	// Get retrieves a value from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// DeleteByPattern removes all values matching a glob pattern (e.g. "cache:stats:*")
	DeleteByPattern(ctx context.Context, pattern string) error

	// Close closes the cache connection
	Close() error
}

// Key prefixes
const (
	KeyPrefixCaptchaBalance = "cache:captcha:balance"
	KeyPrefixAccountStats   = "cache:stats:accounts"
	KeyPrefixProxyStats     = "cache:stats:proxies"
)

// TTL configurations for different cache types
const (
	// TTLCaptchaBalance bounds how stale a pre-flight balance may be
	TTLCaptchaBalance = 60 * time.Second

	TTLStats = 30 * time.Second
)

// Key joins a prefix and an identifier
func Key(prefix, id string) string {
	return prefix + ":" + id
}

// Remember returns the cached JSON value of key, or calls load, caches its
// result for ttl and returns it. Cache failures fall through to load.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var out T

	if c != nil {
		if data, err := c.Get(ctx, key); err == nil {
			if json.Unmarshal(data, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := load(ctx)
	if err != nil {
		return out, err
	}

	if c != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return out, fmt.Errorf("failed to encode cache value: %w", err)
		}
		_ = c.Set(ctx, key, data, ttl)
	}

	return out, nil
}
