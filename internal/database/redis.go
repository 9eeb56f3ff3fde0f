package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectToRedisClient builds a client from host:port or a redis:// URL and
// checks it with a ping. Retries with backoff are left to go-redis.
func ConnectToRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	slog.Info("[DB:Redis:Connect:01] - Connecting to Redis", "addr", addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address not configured")
	}

	var opts *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}
	opts.PoolSize = 128
	opts.MinIdleConns = 16
	opts.MaxRetries = 5
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second

	c := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("falha ao conectar com o Redis em %s: %w", addr, err)
	}

	slog.Info("[DB:Redis:Connect:02] - Redis client ready")
	return c, nil
}

func CloseRedisClient(c *redis.Client) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		slog.Error("[DB:Redis:Close:01] - Failed to close Redis client", "error", err)
	}
}
