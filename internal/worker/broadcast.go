package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

const (
	DEFAULT_BROADCAST_INTERVAL = 5 * time.Minute
	DEFAULT_BROADCAST_WINDOW   = 24 * time.Hour
)

// Refresher recomputes a window and pushes it to subscribers.
type Refresher interface {
	RefreshAndBroadcast(ctx context.Context, w domain.Window) (int, error)
}

// broadcastWorker pushes a fresh score for the trailing window on a fixed
// interval, whether or not anyone asked for one.
type broadcastWorker struct {
	svc      Refresher
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

func NewBroadcastWorker(svc Refresher, interval, window time.Duration) *broadcastWorker {
	if interval <= 0 {
		interval = DEFAULT_BROADCAST_INTERVAL
	}
	if window <= 0 {
		window = DEFAULT_BROADCAST_WINDOW
	}
	return &broadcastWorker{svc: svc, interval: interval, window: window, now: time.Now}
}

func (w *broadcastWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("[WK:Broadcast:Run:01] - Broadcast worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Tick(ctx); err != nil {
				slog.Error("[WK:Broadcast:Run:02] - Periodic broadcast failed", "error", err)
			}
		}
	}
}

// Tick broadcasts the score for the window ending now.
func (w *broadcastWorker) Tick(ctx context.Context) (int, error) {
	end := w.now().UTC()
	n, err := w.svc.RefreshAndBroadcast(ctx, domain.Window{Start: end.Add(-w.window), End: end})
	if err != nil {
		return 0, err
	}
	slog.Info("[WK:Broadcast:Tick:01] - Periodic score broadcast", "subscribers", n)
	return n, nil
}
