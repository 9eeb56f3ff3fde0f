package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/metrics"
)

// DEFAULT_COMPUTE_TIMEOUT bounds one score computation, whoever is waiting on it.
const DEFAULT_COMPUTE_TIMEOUT = 30 * time.Second

// Scorer computes a fresh HealthScore.
type Scorer interface {
	Compute(ctx context.Context, w domain.Window) (*domain.HealthScore, error)
}

// DashboardService serves scores through a short-TTL cache. Concurrent misses
// for the same key share one computation, and every fresh score is pushed to
// live subscribers.
type DashboardService struct {
	scorer Scorer
	cache  core.ScoreCache
	hub    core.Broadcaster
	ttl    time.Duration

	computeTimeout time.Duration

	group singleflight.Group
	wg    sync.WaitGroup
}

func NewDashboardService(scorer Scorer, cache core.ScoreCache, hub core.Broadcaster, ttl time.Duration) *DashboardService {
	return &DashboardService{scorer: scorer, cache: cache, hub: hub, ttl: ttl, computeTimeout: DEFAULT_COMPUTE_TIMEOUT}
}

// GetDashboard returns the cached score for w or computes it.
func (d *DashboardService) GetDashboard(ctx context.Context, w domain.Window) (*domain.HealthScore, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	key := w.CacheKey()

	cached, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("[SV:Dashboard:Get:01] - Score cache read failed, computing", "key", key, "error", err)
	} else if ok {
		metrics.ScoreCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.ScoreCache.WithLabelValues("miss").Inc()

	ch := d.group.DoChan(key, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.computeTimeout)
		defer cancel()
		score, err := d.refresh(cctx, w, key)
		if err != nil {
			return nil, err
		}
		d.broadcastAsync(score)
		return score, nil
	})

	select {
	case <-ctx.Done():
		slog.Warn("[SV:Dashboard:Get:03] - Caller gave up before the score was ready", "key", key, "error", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("[SV:Dashboard:Get:02] - Shared in-flight computation", "key", key)
		}
		return res.Val.(*domain.HealthScore), nil
	}
}

// RefreshAndBroadcast recomputes w regardless of the cache, stores the
// result and pushes it to subscribers. It returns how many received it.
func (d *DashboardService) RefreshAndBroadcast(ctx context.Context, w domain.Window) (int, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	cctx, cancel := context.WithTimeout(ctx, d.computeTimeout)
	defer cancel()
	score, err := d.refresh(cctx, w, w.CacheKey())
	if err != nil {
		return 0, err
	}
	return d.hub.Broadcast(ctx, score), nil
}

func (d *DashboardService) refresh(ctx context.Context, w domain.Window, key string) (*domain.HealthScore, error) {
	score, err := d.scorer.Compute(ctx, w)
	if err != nil {
		return nil, err
	}
	if err := d.cache.Set(ctx, key, score, d.ttl); err != nil {
		slog.Warn("[SV:Dashboard:Refresh:01] - Failed to cache score", "key", key, "error", err)
	}
	return score, nil
}

func (d *DashboardService) broadcastAsync(score *domain.HealthScore) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[SV:Dashboard:Broadcast:01] - Recovered from panic in broadcast", "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n := d.hub.Broadcast(ctx, score)
		slog.Debug("[SV:Dashboard:Broadcast:02] - On-demand broadcast sent", "subscribers", n)
	}()
}

// Wait blocks until pending on-demand broadcasts finish.
func (d *DashboardService) Wait() {
	d.wg.Wait()
}
