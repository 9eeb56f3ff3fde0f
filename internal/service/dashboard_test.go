package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/repository/memory"
)

type countingScorer struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *countingScorer) Compute(ctx context.Context, w domain.Window) (*domain.HealthScore, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	return &domain.HealthScore{StartDate: w.Start, EndDate: w.End, LocationID: w.LocationID}, nil
}

type recordingHub struct {
	mu     sync.Mutex
	scores []*domain.HealthScore
}

func (h *recordingHub) Broadcast(ctx context.Context, score *domain.HealthScore) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.scores = append(h.scores, score)
	return 3
}

func (h *recordingHub) sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scores)
}

func TestDashboardCachesAndBroadcastsOnMiss(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	scorer := &countingScorer{}
	hub := &recordingHub{}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), hub, 30*time.Second)

	first, err := svc.GetDashboard(ctx, scoreWindow("loc-1"))
	c.Assert(err, qt.IsNil)
	svc.Wait()
	c.Assert(hub.sent(), qt.Equals, 1)

	second, err := svc.GetDashboard(ctx, scoreWindow("loc-1"))
	c.Assert(err, qt.IsNil)
	svc.Wait()
	c.Assert(second, qt.Equals, first)
	c.Assert(scorer.calls.Load(), qt.Equals, int32(1))
	c.Assert(hub.sent(), qt.Equals, 1)

	// A different filter is a different key.
	_, err = svc.GetDashboard(ctx, scoreWindow(""))
	c.Assert(err, qt.IsNil)
	svc.Wait()
	c.Assert(scorer.calls.Load(), qt.Equals, int32(2))
	c.Assert(hub.sent(), qt.Equals, 2)
}

func TestDashboardDedupesConcurrentMisses(t *testing.T) {
	c := qt.New(t)
	scorer := &countingScorer{release: make(chan struct{})}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), &recordingHub{}, 30*time.Second)

	const callers = 8
	results := make([]*domain.HealthScore, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			score, err := svc.GetDashboard(context.Background(), scoreWindow(""))
			if err == nil {
				results[i] = score
			}
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(scorer.release)
	wg.Wait()
	svc.Wait()

	c.Assert(scorer.calls.Load(), qt.Equals, int32(1))
	for _, r := range results {
		c.Assert(r, qt.Equals, results[0])
	}
}

func TestDashboardRejectsInvalidWindow(t *testing.T) {
	c := qt.New(t)
	scorer := &countingScorer{}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), &recordingHub{}, time.Second)
	_, err := svc.GetDashboard(context.Background(), domain.Window{Start: scoreDay, End: scoreDay.Add(-time.Second)})
	c.Assert(err, qt.ErrorIs, domain.ErrInvalidWindow)
	c.Assert(scorer.calls.Load(), qt.Equals, int32(0))
}

func TestRefreshAndBroadcastBypassesCache(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	scorer := &countingScorer{}
	hub := &recordingHub{}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), hub, time.Minute)

	_, err := svc.GetDashboard(ctx, scoreWindow(""))
	c.Assert(err, qt.IsNil)
	svc.Wait()

	n, err := svc.RefreshAndBroadcast(ctx, scoreWindow(""))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 3)
	c.Assert(scorer.calls.Load(), qt.Equals, int32(2))
	c.Assert(hub.sent(), qt.Equals, 2)
}

// stuckScorer never finishes on its own; it returns once its context ends.
type stuckScorer struct {
	calls atomic.Int32
	ended chan error
}

func (s *stuckScorer) Compute(ctx context.Context, w domain.Window) (*domain.HealthScore, error) {
	s.calls.Add(1)
	<-ctx.Done()
	s.ended <- ctx.Err()
	return nil, ctx.Err()
}

func TestDashboardCallerDeadlineDoesNotWaitForComputation(t *testing.T) {
	c := qt.New(t)
	scorer := &stuckScorer{ended: make(chan error, 2)}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), &recordingHub{}, time.Minute)
	svc.computeTimeout = 400 * time.Millisecond

	// A patient caller shares the computation and gets its timeout error.
	patient := make(chan error, 1)
	go func() {
		_, err := svc.GetDashboard(context.Background(), scoreWindow(""))
		patient <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := svc.GetDashboard(ctx, scoreWindow(""))
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	c.Assert(time.Since(started) < 300*time.Millisecond, qt.IsTrue)

	select {
	case err := <-scorer.ended:
		c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		c.Fatal("computation was never bounded")
	}
	select {
	case err := <-patient:
		c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		c.Fatal("shared caller never returned")
	}
	c.Assert(scorer.calls.Load(), qt.Equals, int32(1))
}

func TestRefreshAndBroadcastIsBounded(t *testing.T) {
	c := qt.New(t)
	scorer := &stuckScorer{ended: make(chan error, 2)}
	hub := &recordingHub{}
	svc := NewDashboardService(scorer, memory.NewScoreCacheRepository(), hub, time.Minute)
	svc.computeTimeout = 50 * time.Millisecond

	_, err := svc.RefreshAndBroadcast(context.Background(), scoreWindow(""))
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)
	c.Assert(hub.sent(), qt.Equals, 0)
}
