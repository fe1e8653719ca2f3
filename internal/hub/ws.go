package hub

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/pairwire/pairwire/internal/metrics"
)

const wsWriteWait = 5 * time.Second

// wsConn adapts a gorilla websocket connection to the registry.Conn
// interface. Writes are serialized by a mutex because the hub loop, grace
// timers and the broadcast path may all send to the same peer.
type wsConn struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(event string, data any) error {
	buf, err := json.Marshal(envelope{Event: event, Data: mustRaw(data)})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, buf)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

func mustRaw(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return buf
}

// WebSocketHandler upgrades GET /ws requests and pumps frames into the hub
// until the peer goes away.
func (h *Hub) WebSocketHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), h.cfg.AllowedOrigins)
			},
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := newWSConn(conn)
		h.Connect(c)
		go h.readLoop(c)
	})
}

func (h *Hub) readLoop(c *wsConn) {
	defer h.Disconnect(c)

	c.conn.SetReadLimit(h.cfg.MaxEventBytes)
	limiter := rate.NewLimiter(rate.Limit(h.cfg.MaxEventsPerSecond), h.cfg.MaxEventsPerSecond)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// The limit is checked after the read so bytes already buffered
		// by the OS are consumed before any close; closing with unread
		// data can turn into an RST that eats the close frame.
		if !limiter.Allow() {
			h.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}
		h.HandleFrame(c, data)
	}
}

// originAllowed accepts same-origin clients (no Origin header) and any
// origin on the allowlist. An empty allowlist accepts everyone; this is a
// public anonymous service by default.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" || len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
