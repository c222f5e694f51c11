// Package cache provides the Redis-backed auth-key store. Auth keys are
// opaque strings handed out for delegated sessions; each maps to a small
// JSON identity reference.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beacond-dev/beacond/internal/auth"
)

const keyPrefix = "beacond:authkey:"

// Client wraps a Redis connection for auth-key lookups. A disabled client
// is valid: Enabled reports false and no lookups are attempted.
type Client struct {
	rdb     *redis.Client
	enabled bool
}

// New creates a cache client. When enabled is false the Redis connection
// is not opened at all.
func New(addr string, enabled bool) *Client {
	if !enabled {
		return &Client{}
	}

	return &Client{
		rdb:     redis.NewClient(&redis.Options{Addr: addr}),
		enabled: true,
	}
}

// Enabled reports whether auth-key lookups may be attempted
func (c *Client) Enabled() bool {
	return c.enabled
}

// GetKey returns the identity entry stored under an auth key, or nil when
// the key is unknown or expired
func (c *Client) GetKey(ctx context.Context, key string) (*auth.KeyEntry, error) {
	if !c.enabled {
		return nil, nil
	}

	data, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth key lookup failed: %w", err)
	}

	var entry auth.KeyEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("corrupt auth key entry: %w", err)
	}

	return &entry, nil
}

// StoreKey writes an identity entry under an auth key with a TTL
func (c *Client) StoreKey(ctx context.Context, key string, entry auth.KeyEntry, ttl time.Duration) error {
	if !c.enabled {
		return fmt.Errorf("cache is disabled")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal auth key entry: %w", err)
	}

	return c.rdb.Set(ctx, keyPrefix+key, data, ttl).Err()
}

// Close releases the Redis connection
func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
