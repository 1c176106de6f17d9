package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageImage MessageType = "IMAGE"
	MessageAudio MessageType = "AUDIO"
)

const MaxTextLength = 4000

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio:
		return true
	}
	return false
}

// Message is immutable once created except for Read, which only moves
// from false to true.
type Message struct {
	ID         int64       `json:"id" db:"id"`
	ChatID     string      `json:"chatId" db:"chat_id"`
	SenderID   string      `json:"senderId" db:"sender_id"`
	ReceiverID string      `json:"receiverId" db:"receiver_id"`
	Type       MessageType `json:"type" db:"type"`
	Content    string      `json:"content" db:"content"`
	SentAt     time.Time   `json:"sentAt" db:"sent_at"`
	Read       bool        `json:"read" db:"read"`
}

type NewMessage struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Type       MessageType
	Content    string
}

// Validate checks the content shape required by the message kind: TEXT
// carries a bounded non-empty body, IMAGE and AUDIO carry a URI.
func (m NewMessage) Validate() error {
	if m.SenderID == "" || m.ReceiverID == "" || m.SenderID == m.ReceiverID {
		return ErrInvalidParticipants
	}
	switch m.Type {
	case MessageText:
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidMessage)
		}
		// The bound applies to what is stored, surrounding whitespace included.
		if len(m.Content) > MaxTextLength {
			return fmt.Errorf("%w: text longer than %d bytes", ErrInvalidMessage, MaxTextLength)
		}
	case MessageImage, MessageAudio:
		if !isMediaURI(m.Content) {
			return fmt.Errorf("%w: %s content must be a URL", ErrInvalidMessage, strings.ToLower(string(m.Type)))
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

func isMediaURI(s string) bool {
	if strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//") {
		return len(s) > 1
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
