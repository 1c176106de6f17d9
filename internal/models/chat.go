package models

import "time"

// Chat is a persistent thread between exactly two users. The participant
// pair is unordered: (a, b) and (b, a) name the same chat.
type Chat struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"userId" db:"user_id"`
	ReceiverID    string     `json:"receiverId" db:"receiver_id"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	// UnreadCount is advisory. The read flags on messages are authoritative
	// and this value is recomputed from them on every read-state update.
	UnreadCount int       `json:"unreadCount" db:"unread_count"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

func (c *Chat) HasParticipant(userID string) bool {
	return userID != "" && (c.UserID == userID || c.ReceiverID == userID)
}

// Peer returns the other participant, or "" if userID is not in the chat.
func (c *Chat) Peer(userID string) string {
	switch userID {
	case c.UserID:
		return c.ReceiverID
	case c.ReceiverID:
		return c.UserID
	}
	return ""
}

type ChatSummary struct {
	Chat
	LastMessage     string      `json:"lastMessage" db:"last_message"`
	LastMessageType MessageType `json:"lastMessageType,omitempty" db:"last_message_type"`
	UnreadForUser   int         `json:"unreadForUser" db:"unread_for_user"`
}
