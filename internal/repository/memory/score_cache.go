package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

type cachedScore struct {
	score     *domain.HealthScore
	expiresAt time.Time
}

// scoreCacheMemoryRepository is a process-local ScoreCache. Expired entries
// are dropped lazily on Get.
type scoreCacheMemoryRepository struct {
	mu      sync.Mutex
	entries map[string]cachedScore
	now     func() time.Time
}

var _ core.ScoreCache = (*scoreCacheMemoryRepository)(nil)

func NewScoreCacheRepository() *scoreCacheMemoryRepository {
	return &scoreCacheMemoryRepository{entries: make(map[string]cachedScore), now: time.Now}
}

func (c *scoreCacheMemoryRepository) Get(ctx context.Context, key string) (*domain.HealthScore, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.score, true, nil
}

func (c *scoreCacheMemoryRepository) Set(ctx context.Context, key string, score *domain.HealthScore, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = cachedScore{score: score, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
