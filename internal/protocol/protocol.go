package protocol

import (
	"encoding/json"

	"github.com/umar/rental-chat/internal/models"
)

// Server to client.
const (
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventMessagesRead      = "messages_read"
	EventUnreadCountUpdate = "unread_count_update"
	EventNewNotification   = "new_notification"
	EventCallState         = "callState"
	EventError             = "error"
	EventPong              = "pong"
)

// Call lifecycle events travel in both directions: a client emits them to
// request a transition and the server emits them to announce one.
const (
	EventIncomingCall = "incomingCall"
	EventCallAccepted = "callAccepted"
	EventCallRejected = "callRejected"
	EventCallEnded    = "callEnded"
)

// Client to server.
const (
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_read"
	EventPing        = "ping"
)

const (
	ScopeMessages      = "messages"
	ScopeNotifications = "notifications"
)

// Reasons carried by callRejected / callEnded.
const (
	ReasonRejected     = "rejected"
	ReasonTimeout      = "timeout"
	ReasonUnreachable  = "unreachable"
	ReasonHangup       = "hangup"
	ReasonDisconnected = "disconnected"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	ClientID   string             `json:"clientId,omitempty"`
	ChatID     string             `json:"chatId"`
	ReceiverID string             `json:"receiverId"`
	Type       models.MessageType `json:"type"`
	Content    string             `json:"content"`
}

type MessageSentPayload struct {
	ClientID string          `json:"clientId,omitempty"`
	Message  *models.Message `json:"message"`
}

type ChatPayload struct {
	ChatID string `json:"chatId"`
}

type MessagesReadPayload struct {
	ChatID       string `json:"chatId"`
	UserID       string `json:"userId"`
	UpdatedCount int    `json:"updatedCount"`
}

type UnreadCountPayload struct {
	Count int    `json:"count"`
	Scope string `json:"scope"`
}

type InitiateCallPayload struct {
	ChatID     string `json:"chatId"`
	ReceiverID string `json:"receiverId"`
}

type CallPayload struct {
	ChatID     string `json:"chatId"`
	CallerID   string `json:"callerId"`
	ReceiverID string `json:"receiverId"`
	RoomToken  string `json:"roomToken"`
	Reason     string `json:"reason,omitempty"`
}

type CallStatePayload struct {
	ChatID     string           `json:"chatId"`
	State      models.CallState `json:"state"`
	CallerID   string           `json:"callerId,omitempty"`
	ReceiverID string           `json:"receiverId,omitempty"`
	RoomToken  string           `json:"roomToken,omitempty"`
}

type ErrorPayload struct {
	Message  string `json:"message"`
	Code     string `json:"code"`
	ClientID string `json:"clientId,omitempty"`
}

func NewCallPayload(s models.CallSession, reason string) CallPayload {
	return CallPayload{
		ChatID:     s.ChatID,
		CallerID:   s.CallerID,
		ReceiverID: s.ReceiverID,
		RoomToken:  s.RoomToken,
		Reason:     reason,
	}
}

func Encode(event string, payload interface{}) ([]byte, error) {
	var p json.RawMessage
	if payload != nil {
		var err error
		p, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: event, Payload: p})
}
