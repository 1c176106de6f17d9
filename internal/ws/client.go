// Package ws is the websocket transport: it authenticates the upgrade,
// registers the connection with the hub and pumps frames in both
// directions.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/umar/rental-chat/internal/auth"
	"github.com/umar/rental-chat/internal/hub"
	"github.com/umar/rental-chat/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 16 << 10
	sendBuffer     = 256
)

// Client is one websocket connection. It satisfies hub.Conn.
type Client struct {
	id     string
	userID string

	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Send queues data for the write pump. It never blocks: a closed client
// or a full buffer both report false.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close asks both pumps to stop. The send channel is never closed, so a
// concurrent Send cannot panic.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

type Server struct {
	hub       *hub.Hub
	router    *Router
	jwtSecret string
	eventRate rate.Limit
	upgrader  websocket.Upgrader
}

func NewServer(h *hub.Hub, router *Router, jwtSecret string, eventsPerSecond float64) *Server {
	if eventsPerSecond <= 0 {
		eventsPerSecond = 10
	}
	return &Server{
		hub:       h,
		router:    router,
		jwtSecret: jwtSecret,
		eventRate: rate.Limit(eventsPerSecond),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates once, from ?token= or the bearer header, and
// upgrades the request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r)
	}
	claims, err := auth.ValidateToken(token, s.jwtSecret)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(protocol.ErrorPayload{
			Message: err.Error(),
			Code:    protocol.ErrorCode(err),
		})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	burst := int(s.eventRate) * 2
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		id:      uuid.NewString(),
		userID:  claims.UserID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(s.eventRate, burst),
	}
	s.hub.Register(c)
	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *Client) {
	defer func() {
		remaining := s.hub.Unregister(c)
		c.Close()
		c.conn.Close()
		if remaining == 0 {
			s.router.Disconnected(c.userID)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read error", "error", err, "user_id", c.userID)
			}
			return
		}

		// Every frame counts against the limit, well-formed or not.
		if !c.limiter.Allow() {
			replyError(c, "too many events", protocol.CodeRateLimited, "")
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			replyError(c, "malformed event", protocol.CodeInvalidPayload, "")
			continue
		}
		s.router.Handle(context.Background(), c, env)
	}
}

func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
