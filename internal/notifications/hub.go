package notifications

import (
	"context"
	"errors"
	"sync"

	"chapterhub/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser = 6
	maxTotalConns   = 500
)

// Connection limit errors.
var (
	ErrHubFull     = errors.New("live feed connection limit reached")
	ErrUserLimit   = errors.New("user connection limit reached")
	ErrHubShutdown = errors.New("live feed is shutting down")
)

// Hub is the admin live feed. It maps userID -> connected clients and fans
// every admin-channel event out to all of them.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	closed     bool
}

// NewHub creates an empty live-feed hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[uint]map[*Client]struct{})}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "admin feed" }

// Register adds a connection for userID. It fails when a limit is reached.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubShutdown
	}
	if h.totalConns >= maxTotalConns {
		return nil, ErrHubFull
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserLimit
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	return client, nil
}

// UnregisterClient removes client and closes its send channel.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	h.totalConns--
	observability.WebSocketConnectionsTotal.Dec()
	close(client.Send)
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
}

// Connected returns the number of open connections.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// BroadcastAll sends message to every connected client.
func (h *Hub) BroadcastAll(message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// StartWiring subscribes the hub to the admin channel.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartAdminSubscriber(ctx, h.BroadcastAll)
}

// Shutdown closes every client's send channel; each write pump then sends a
// close frame and drops its connection.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	for _, userConns := range h.conns {
		for client := range userConns {
			close(client.Send)
			observability.WebSocketConnectionsTotal.Dec()
		}
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
