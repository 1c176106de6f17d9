// Package hubtest provides a recording hub.Conn for tests.
package hubtest

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/umar/rental-chat/internal/protocol"
)

type Conn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	full   bool
	closed bool
}

func NewConn(userID string) *Conn {
	return &Conn{id: uuid.NewString(), userID: userID}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// SetFull makes every following Send fail, simulating a stalled client.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Envelopes() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env protocol.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// Events returns the envelopes of type event, in arrival order.
func (c *Conn) Events(event string) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range c.Envelopes() {
		if env.Type == event {
			out = append(out, env)
		}
	}
	return out
}

func (c *Conn) Count(event string) int {
	return len(c.Events(event))
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// Last decodes the payload of the most recent event of type event into v.
func (c *Conn) Last(t testing.TB, event string, v interface{}) {
	t.Helper()
	events := c.Events(event)
	if len(events) == 0 {
		t.Fatalf("user %s received no %q event", c.userID, event)
	}
	if err := json.Unmarshal(events[len(events)-1].Payload, v); err != nil {
		t.Fatalf("decode %q payload: %v", event, err)
	}
}
