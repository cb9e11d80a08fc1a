package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"socialgraph/internal/logging"
)

// Client is the shared Redis connection pool used for event streams, timelines and
// idempotency keys.
type Client struct {
	*redis.Client
}

// NewClient creates a client from a URL such as redis://:password@localhost:6379/0.
// It does not dial; call Ping to fail fast.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Client{Client: redis.NewClient(opts)}, nil
}

// Connect creates a client and verifies it within five seconds.
func Connect(ctx context.Context, redisURL string) (*Client, error) {
	c, err := NewClient(redisURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.Close()
		return nil, err
	}

	logging.Info().
		Str("component", "redis").
		Str("addr", c.Options().Addr).
		Int("db", c.Options().DB).
		Msg("connected to redis")
	return c, nil
}

// Ping verifies the connection to Redis.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
