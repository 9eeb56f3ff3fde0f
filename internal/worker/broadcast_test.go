package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

type refresherStub struct {
	mu      sync.Mutex
	windows []domain.Window
	err     error
}

func (r *refresherStub) RefreshAndBroadcast(ctx context.Context, w domain.Window) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, w)
	return 2, r.err
}

func (r *refresherStub) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

func TestTickUsesTrailingWindow(t *testing.T) {
	c := qt.New(t)
	stub := &refresherStub{}
	w := NewBroadcastWorker(stub, time.Minute, 24*time.Hour)
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.Tick(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 2)
	c.Assert(stub.windows, qt.HasLen, 1)
	c.Assert(stub.windows[0].End, qt.Equals, now)
	c.Assert(stub.windows[0].Start, qt.Equals, now.Add(-24*time.Hour))

	stub.err = errors.New("store down")
	_, err = w.Tick(context.Background())
	c.Assert(err, qt.ErrorMatches, "store down")
}

func TestBroadcastWorkerRunsOnInterval(t *testing.T) {
	c := qt.New(t)
	stub := &refresherStub{}
	w := NewBroadcastWorker(stub, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for stub.calls() < 2 {
		if time.Now().After(deadline) {
			c.Fatal("broadcast worker did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
