package stream

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lutefd/telemetry-api/internal/events"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 16
)

// Hub upgrades dashboard connections and relays realtime snapshots from the
// bus. A slow client loses frames; it never holds up the publisher.
type Hub struct {
	bus      *events.Bus
	upgrader websocket.Upgrader
	log      *zap.Logger
	clients  atomic.Int64
	dropped  atomic.Int64
}

// NewHub builds a hub. With no allowed origins the upgrader only accepts
// same-origin browsers; "*" accepts any origin. Requests without an Origin
// header (non-browser clients) are always accepted.
func NewHub(bus *events.Bus, log *zap.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.ToLower(origin)]
	}
}

func (h *Hub) Clients() int64 {
	return h.clients.Load()
}

func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h.clients.Add(1)
	c := &client{
		conn: conn,
		send: make(chan any, sendBuffer),
		done: make(chan struct{}),
	}
	unsubscribe := h.bus.Subscribe(events.RealtimeSnapshot, func(_ context.Context, e events.Event) error {
		select {
		case c.send <- e.Payload:
		default:
			h.dropped.Add(1)
		}
		return nil
	})

	h.log.Info("stream client connected", zap.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()

	h.clients.Add(-1)
	unsubscribe()
	h.log.Info("stream client disconnected", zap.String("remote", r.RemoteAddr))
}

type client struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}
}

// readPump discards inbound frames; it exists to process pongs and notice
// the peer going away.
func (c *client) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
