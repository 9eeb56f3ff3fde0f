package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type healthCheckRedisRepository struct {
	db redis.Cmdable
}

func NewHealthCheckRepository(db redis.Cmdable) *healthCheckRedisRepository {
	return &healthCheckRedisRepository{db: db}
}

func (r *healthCheckRedisRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.Ping(ctx).Err(); err != nil {
		slog.Error("[RP:HealthCheck:Ping:01] - Redis health check failed", "error", err)
		return err
	}
	return nil
}
