// Package tracestore provides an optional, write-mostly archive of
// finished execution traces in Redis: a namespaced client wrapper adapted
// from the teacher's core.RedisClient (connection lifecycle, namespacing,
// health check), trimmed of the framework's multi-concern DB-allocation
// scheme since this module has exactly one use for Redis.
package tracestore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/condukt-run/missionengine/logger"
)

// Client wraps go-redis with namespacing and an injected logger.
type Client struct {
	redis     *redis.Client
	namespace string
	logger    logger.Logger
}

// ClientOptions configures Client.
type ClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    logger.Logger
}

// NewClient connects to Redis and verifies the connection with a bounded
// Ping, the way the teacher's NewRedisClient does.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("tracestore: redis URL is required")
	}
	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("tracestore: invalid redis URL: %w", err)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	rdb := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("tracestore: failed to connect to redis: %w", err)
	}

	c := &Client{redis: rdb, namespace: opts.Namespace, logger: opts.Logger}
	if c.logger != nil {
		c.logger.Info("tracestore connected", "namespace", opts.Namespace)
	}
	return c, nil
}

func (c *Client) formatKey(key string) string {
	if c.namespace != "" {
		return fmt.Sprintf("%s:%s", c.namespace, key)
	}
	return key
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.redis.Close()
}

// Set stores value under key with an optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.redis.Set(ctx, c.formatKey(key), value, ttl).Err()
}

// Get retrieves the raw value stored under key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.redis.Get(ctx, c.formatKey(key)).Result()
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, k := range keys {
		formatted[i] = c.formatKey(k)
	}
	return c.redis.Del(ctx, formatted...).Err()
}

// HealthCheck verifies connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}
