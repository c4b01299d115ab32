package notifications

import (
	"log/slog"
	"sync/atomic"
	"time"

	"chapterhub/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// The feed is read-only; peers only send control frames.
	maxInboundFrame = 512
	sendBuffer      = 256
)

// gapNotice tells the dashboard it missed events and should re-fetch.
var gapNotice = []byte(`{"type":"feed.gap","payload":{"reason":"buffer_full"}}`)

// Client is one admin live-feed socket registered with a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Send is closed by the hub on unregister or shutdown.
	Send   chan []byte
	UserID uint

	dropped atomic.Int64
	gapped  atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
	}
}

// Serve runs the socket until the peer leaves or the hub closes Send.
func (c *Client) Serve() {
	go c.writeLoop()
	c.readLoop()
}

// Dropped is the number of events discarded because the buffer was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.UnregisterClient(c)
		_ = c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxInboundFrame)
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			slog.Warn("live feed read failed",
				slog.Uint64("user_id", uint64(c.UserID)),
				slog.String("error", err.Error()),
			)
		}
		return
	}
}

func (c *Client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, open := <-c.Send:
			if !open {
				_ = c.write(websocket.CloseMessage, nil)
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
			if c.gapped.CompareAndSwap(true, false) {
				if err := c.write(websocket.TextMessage, gapNotice); err != nil {
					return
				}
			}
		case <-ping.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

// TrySend queues msg without blocking. On a full buffer msg is dropped and
// the next delivered event is followed by a gap notice.
func (c *Client) TrySend(msg []byte) {
	defer func() {
		// Send was closed by a concurrent unregister.
		if recover() != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- msg:
	default:
		c.dropped.Add(1)
		c.gapped.Store(true)
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hub.Name(), "full").Inc()
		slog.Warn("live feed buffer full, dropped event",
			slog.Uint64("user_id", uint64(c.UserID)),
			slog.Int64("dropped", c.dropped.Load()),
		)
	}
}
