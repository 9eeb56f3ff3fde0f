package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

// scoreCacheRedisRepository keeps msgpack-encoded scores under their window
// key with a TTL, so every API replica shares one short-lived result.
type scoreCacheRedisRepository struct {
	db redis.Cmdable
}

func NewScoreCacheRepository(db redis.Cmdable) *scoreCacheRedisRepository {
	return &scoreCacheRedisRepository{db: db}
}

func (r *scoreCacheRedisRepository) Get(ctx context.Context, key string) (*domain.HealthScore, bool, error) {
	data, err := r.db.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		slog.Error("[RP:ScoreCache:Get:01] - Failed to read cached score", "key", key, "error", err)
		return nil, false, err
	}
	var score domain.HealthScore
	if err := msgpack.Unmarshal(data, &score); err != nil {
		slog.Error("[RP:ScoreCache:Get:02] - Failed to unmarshal cached score", "key", key, "error", err)
		return nil, false, err
	}
	return &score, true, nil
}

func (r *scoreCacheRedisRepository) Set(ctx context.Context, key string, score *domain.HealthScore, ttl time.Duration) error {
	b, err := msgpack.Marshal(score)
	if err != nil {
		slog.Error("[RP:ScoreCache:Set:01] - Failed to marshal score", "key", key, "error", err)
		return err
	}
	if err := r.db.Set(ctx, key, b, ttl).Err(); err != nil {
		slog.Error("[RP:ScoreCache:Set:02] - Failed to cache score", "key", key, "error", err)
		return err
	}
	return nil
}
