package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/nicolasmmb/go-payment-health/internal/core"
	"github.com/nicolasmmb/go-payment-health/internal/domain"
	"github.com/nicolasmmb/go-payment-health/internal/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	// A subscriber that answers no ping within defaultPongWait is dropped.
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = defaultPongWait * 9 / 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type subscriber struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (s *subscriber) send(msg *websocket.PreparedMessage, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.conn.WritePreparedMessage(msg)
}

func (s *subscriber) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	s.mu.Unlock()
	_ = s.conn.Close()
}

// Hub keeps the live dashboard subscribers keyed by connection id. Connect,
// disconnect and the broadcast sweep all touch the registry concurrently.
type Hub struct {
	subs         sync.Map // id -> *subscriber
	count        atomic.Int64
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pongWait     time.Duration
	pingPeriod   time.Duration
}

var _ core.Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		pongWait:     defaultPongWait,
		pingPeriod:   defaultPingPeriod,
	}
}

// ServeHTTP upgrades the request and holds it until the client goes away.
// Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[BC:Hub:Serve:01] - Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sub := &subscriber{id: uuid.NewString(), conn: conn}
	h.subs.Store(sub.id, sub)
	h.count.Add(1)
	metrics.Subscribers.Inc()
	slog.Info("[BC:Hub:Serve:02] - Subscriber connected", "id", sub.id, "remote", r.RemoteAddr)
	defer h.remove(sub.id)

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	stop := make(chan struct{})
	pinged := make(chan struct{})
	go func() {
		defer close(pinged)
		h.keepAlive(sub, stop)
	}()
	defer func() {
		close(stop)
		<-pinged
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			slog.Info("[BC:Hub:Serve:03] - Subscriber disconnected", "id", sub.id, "reason", err)
			return
		}
	}
}

// keepAlive pings sub until stop is closed. A failed ping closes the
// connection, which ends the read loop.
func (h *Hub) keepAlive(sub *subscriber, stop <-chan struct{}) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout))
			if err != nil {
				slog.Info("[BC:Hub:KeepAlive:01] - Ping failed, closing subscriber", "id", sub.id, "error", err)
				_ = sub.conn.Close()
				return
			}
		}
	}
}

// Broadcast serializes score once and writes it to every subscriber. A failed
// write counts as a disconnect. It returns how many subscribers received it.
func (h *Hub) Broadcast(ctx context.Context, score *domain.HealthScore) int {
	payload, err := json.Marshal(score)
	if err != nil {
		slog.Error("[BC:Hub:Broadcast:01] - Failed to marshal score", "error", err)
		return 0
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, payload)
	if err != nil {
		slog.Error("[BC:Hub:Broadcast:02] - Failed to prepare message", "error", err)
		return 0
	}

	sent := 0
	h.subs.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		sub := value.(*subscriber)
		if sub.closed.Load() {
			h.remove(sub.id)
			return true
		}
		if err := sub.send(msg, h.writeTimeout); err != nil {
			slog.Info("[BC:Hub:Broadcast:03] - Dropping subscriber after failed send", "id", sub.id, "error", err)
			h.remove(sub.id)
			return true
		}
		sent++
		return true
	})

	metrics.BroadcastsSent.Add(float64(sent))
	slog.Debug("[BC:Hub:Broadcast:04] - Score broadcast", "sent", sent, "subscribers", h.Count())
	return sent
}

// Count reports the registered subscribers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.subs.Range(func(key, _ any) bool {
		h.remove(key.(string))
		return true
	})
}

func (h *Hub) remove(id string) {
	v, loaded := h.subs.LoadAndDelete(id)
	if !loaded {
		return
	}
	h.count.Add(-1)
	metrics.Subscribers.Dec()
	v.(*subscriber).close()
}
