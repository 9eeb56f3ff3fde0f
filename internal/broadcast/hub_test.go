package broadcast

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/nicolasmmb/go-payment-health/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startHub(c *qt.C, opts ...func(*Hub)) (*Hub, string) {
	hub := NewHub()
	for _, opt := range opts {
		opt(hub)
	}
	srv := httptest.NewServer(hub)
	c.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(c *qt.C, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	c.Assert(err, qt.IsNil)
	return conn
}

func waitFor(c *qt.C, what string, cond func() bool) {
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastReachesEverySubscriber(t *testing.T) {
	c := qt.New(t)
	hub, url := startHub(c)

	a := dial(c, url)
	defer a.Close()
	b := dial(c, url)
	defer b.Close()
	waitFor(c, "two subscribers", func() bool { return hub.Count() == 2 })

	score := &domain.HealthScore{HeatIndex: domain.HeatIndex{TotalScore: 70, HealthStatus: domain.StatusWarning}}
	c.Assert(hub.Broadcast(context.Background(), score), qt.Equals, 2)

	for _, conn := range []*websocket.Conn{a, b} {
		c.Assert(conn.SetReadDeadline(time.Now().Add(2*time.Second)), qt.IsNil)
		kind, data, err := conn.ReadMessage()
		c.Assert(err, qt.IsNil)
		c.Assert(kind, qt.Equals, websocket.TextMessage)

		var got domain.HealthScore
		c.Assert(json.Unmarshal(data, &got), qt.IsNil)
		c.Assert(got.HeatIndex.TotalScore, qt.Equals, 70)
		c.Assert(got.HeatIndex.HealthStatus, qt.Equals, domain.StatusWarning)
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	c := qt.New(t)
	hub, url := startHub(c)

	conn := dial(c, url)
	waitFor(c, "subscriber", func() bool { return hub.Count() == 1 })

	c.Assert(conn.Close(), qt.IsNil)
	waitFor(c, "unregister", func() bool { return hub.Count() == 0 })
	c.Assert(hub.Broadcast(context.Background(), &domain.HealthScore{}), qt.Equals, 0)
}

func TestBroadcastDropsClosedHandles(t *testing.T) {
	c := qt.New(t)
	hub, url := startHub(c)

	conn := dial(c, url)
	defer conn.Close()
	waitFor(c, "subscriber", func() bool { return hub.Count() == 1 })

	hub.subs.Range(func(_, v any) bool {
		v.(*subscriber).conn.Close()
		return true
	})

	c.Assert(hub.Broadcast(context.Background(), &domain.HealthScore{}), qt.Equals, 0)
	waitFor(c, "closed handle removed", func() bool { return hub.Count() == 0 })
}

func TestBroadcastWithNoSubscribers(t *testing.T) {
	hub := NewHub()
	qt.Assert(t, hub.Broadcast(context.Background(), &domain.HealthScore{}), qt.Equals, 0)
}

func fastKeepAlive(h *Hub) {
	h.pongWait = 150 * time.Millisecond
	h.pingPeriod = 30 * time.Millisecond
}

func TestSilentSubscriberIsDropped(t *testing.T) {
	c := qt.New(t)
	hub, url := startHub(c, fastKeepAlive)

	// Never reads, so pings go unanswered.
	conn := dial(c, url)
	defer conn.Close()
	waitFor(c, "one subscriber", func() bool { return hub.Count() == 1 })
	waitFor(c, "silent subscriber to be dropped", func() bool { return hub.Count() == 0 })
}

func TestResponsiveSubscriberStays(t *testing.T) {
	c := qt.New(t)
	hub, url := startHub(c, fastKeepAlive)

	conn := dial(c, url)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		// Reading lets the default ping handler answer with pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-readerDone
	}()

	waitFor(c, "one subscriber", func() bool { return hub.Count() == 1 })
	time.Sleep(500 * time.Millisecond)
	c.Assert(hub.Count(), qt.Equals, 1)
}
