package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umar/rental-chat/internal/protocol"
)

// Conn is one live transport connection of a user. A user may hold several
// at once, one per device.
type Conn interface {
	ID() string
	UserID() string
	// Send queues data without blocking and reports whether it was accepted.
	Send(data []byte) bool
	Close()
}

// Presence mirrors online/offline transitions outside the process.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userIDs []string) error
}

const presenceTimeout = 2 * time.Second

// Hub maps users to their live connections and fans events out to all of
// them.
type Hub struct {
	mu    sync.RWMutex
	users map[string][]Conn

	presence        Presence
	refreshInterval time.Duration
}

type Option func(*Hub)

func WithPresence(p Presence, refreshInterval time.Duration) Option {
	return func(h *Hub) {
		h.presence = p
		h.refreshInterval = refreshInterval
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{users: make(map[string][]Conn)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds c to its user's connection set. Registering the same
// connection twice is a no-op.
func (h *Hub) Register(c Conn) {
	userID := c.UserID()

	h.mu.Lock()
	conns := h.users[userID]
	for _, existing := range conns {
		if existing == c {
			h.mu.Unlock()
			return
		}
	}
	h.users[userID] = append(conns, c)
	count := len(h.users[userID])
	h.mu.Unlock()

	slog.Info("client connected", "user_id", userID, "conn_id", c.ID(), "connections", count)
	if count == 1 {
		h.markPresence(userID, true)
	}
}

// Unregister removes only c, leaving the user's other connections in place,
// and returns how many connections the user still has.
func (h *Hub) Unregister(c Conn) int {
	userID := c.UserID()

	h.mu.Lock()
	conns := h.users[userID]
	removed := false
	for i, existing := range conns {
		if existing == c {
			next := make([]Conn, 0, len(conns)-1)
			next = append(next, conns[:i]...)
			next = append(next, conns[i+1:]...)
			conns = next
			removed = true
			break
		}
	}
	if len(conns) == 0 {
		delete(h.users, userID)
	} else {
		h.users[userID] = conns
	}
	remaining := len(conns)
	h.mu.Unlock()

	if !removed {
		return remaining
	}
	slog.Info("client disconnected", "user_id", userID, "conn_id", c.ID(), "connections", remaining)
	if remaining == 0 {
		h.markPresence(userID, false)
	}
	return remaining
}

// EmitToUser delivers one event to every live connection of userID and
// returns how many accepted it. Zero means the user is offline.
func (h *Hub) EmitToUser(userID, event string, payload interface{}) int {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return 0
	}
	return h.SendToUser(userID, data)
}

// SendToUser writes pre-encoded data to a snapshot of the user's
// connections. Connections whose buffer is full are dropped.
func (h *Hub) SendToUser(userID string, data []byte) int {
	h.mu.RLock()
	snapshot := h.users[userID]
	h.mu.RUnlock()

	delivered := 0
	var stalled []Conn
	for _, c := range snapshot {
		if c.Send(data) {
			delivered++
			continue
		}
		stalled = append(stalled, c)
	}
	for _, c := range stalled {
		slog.Warn("dropping slow connection", "user_id", userID, "conn_id", c.ID())
		h.Unregister(c)
		c.Close()
	}
	return delivered
}

func (h *Hub) IsOnline(userID string) bool {
	return h.ConnectionCount(userID) > 0
}

func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	return ids
}

// Run keeps the presence mirror fresh until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.presence == nil || h.refreshInterval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := h.OnlineUserIDs()
			if len(ids) == 0 {
				continue
			}
			rctx, cancel := context.WithTimeout(ctx, presenceTimeout)
			if err := h.presence.Refresh(rctx, ids); err != nil {
				slog.Warn("failed to refresh presence", "error", err)
			}
			cancel()
		}
	}
}

// Shutdown closes every connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	users := h.users
	h.users = make(map[string][]Conn)
	h.mu.Unlock()

	for userID, conns := range users {
		for _, c := range conns {
			c.Close()
		}
		h.markPresence(userID, false)
	}
}

func (h *Hub) markPresence(userID string, online bool) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	var err error
	if online {
		err = h.presence.SetOnline(ctx, userID)
	} else {
		err = h.presence.SetOffline(ctx, userID)
	}
	if err != nil {
		slog.Warn("failed to update presence", "user_id", userID, "online", online, "error", err)
	}
}
