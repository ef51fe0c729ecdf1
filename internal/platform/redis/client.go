package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bizportal/internal/platform/config"
)

// Client is the shared connection used by the approval store, the
// notification transport, the maintenance switch and the rate limiter.
type Client struct {
	*redis.Client
}

// New returns nil, nil when REDIS_URL is unset so callers fall back to
// in-memory implementations.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	c := &Client{Client: redis.NewClient(opts)}
	if err := c.Health(ctx); err != nil {
		_ = c.Client.Close()
		return nil, err
	}
	return c, nil
}

// Health pings the server. A failure reports the pool counters.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		st := c.PoolStats()
		return fmt.Errorf("redis ping (pool total=%d idle=%d timeouts=%d): %w",
			st.TotalConns, st.IdleConns, st.Timeouts, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}
