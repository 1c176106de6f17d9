package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/umar/rental-chat/internal/chat"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

type Messages interface {
	SendMessage(ctx context.Context, m models.NewMessage, clientID string) (*models.Message, error)
}

type Reads interface {
	MarkChatRead(ctx context.Context, chatID, userID string) (chat.ReadResult, error)
}

type Calls interface {
	Initiate(ctx context.Context, chatID, callerID, receiverID string) (*models.CallSession, error)
	Accept(ctx context.Context, chatID, receiverID string) (*models.CallSession, error)
	Reject(ctx context.Context, chatID, receiverID string) error
	End(ctx context.Context, chatID, actorID string) error
	HandleDisconnect(userID string)
}

// Replier is the connection an event arrived on.
type Replier interface {
	UserID() string
	Send(data []byte) bool
}

// Router dispatches inbound events to the services. The acting user is
// always the authenticated owner of the connection, never a payload field.
type Router struct {
	messages Messages
	reads    Reads
	calls    Calls
}

func NewRouter(messages Messages, reads Reads, calls Calls) *Router {
	return &Router{messages: messages, reads: reads, calls: calls}
}

func (rt *Router) Handle(ctx context.Context, from Replier, env protocol.Envelope) {
	userID := from.UserID()

	switch env.Type {
	case protocol.EventPing:
		reply(from, protocol.EventPong, nil)

	case protocol.EventSendMessage:
		var p protocol.SendMessagePayload
		if !decode(from, env, &p) {
			return
		}
		_, err := rt.messages.SendMessage(ctx, models.NewMessage{
			ChatID:     p.ChatID,
			SenderID:   userID,
			ReceiverID: p.ReceiverID,
			Type:       p.Type,
			Content:    p.Content,
		}, p.ClientID)
		if err != nil {
			fail(from, env.Type, err, p.ClientID)
		}

	case protocol.EventMarkRead:
		var p protocol.ChatPayload
		if !decode(from, env, &p) {
			return
		}
		if _, err := rt.reads.MarkChatRead(ctx, p.ChatID, userID); err != nil {
			fail(from, env.Type, err, "")
		}

	case protocol.EventIncomingCall:
		var p protocol.InitiateCallPayload
		if !decode(from, env, &p) {
			return
		}
		if _, err := rt.calls.Initiate(ctx, p.ChatID, userID, p.ReceiverID); err != nil {
			// The caller already got callRejected{unreachable}.
			if !errors.Is(err, models.ErrReceiverUnreachable) {
				fail(from, env.Type, err, "")
			}
		}

	case protocol.EventCallAccepted:
		var p protocol.ChatPayload
		if !decode(from, env, &p) {
			return
		}
		if _, err := rt.calls.Accept(ctx, p.ChatID, userID); err != nil {
			fail(from, env.Type, err, "")
		}

	case protocol.EventCallRejected:
		var p protocol.ChatPayload
		if !decode(from, env, &p) {
			return
		}
		if err := rt.calls.Reject(ctx, p.ChatID, userID); err != nil {
			fail(from, env.Type, err, "")
		}

	case protocol.EventCallEnded:
		var p protocol.ChatPayload
		if !decode(from, env, &p) {
			return
		}
		if err := rt.calls.End(ctx, p.ChatID, userID); err != nil {
			fail(from, env.Type, err, "")
		}

	default:
		replyError(from, "unknown event "+env.Type, protocol.CodeInvalidPayload, "")
	}
}

// Disconnected runs after the user's last connection has closed.
func (rt *Router) Disconnected(userID string) {
	rt.calls.HandleDisconnect(userID)
}

func decode(from Replier, env protocol.Envelope, v interface{}) bool {
	if len(env.Payload) == 0 {
		replyError(from, "missing payload", protocol.CodeInvalidPayload, "")
		return false
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		replyError(from, "malformed payload", protocol.CodeInvalidPayload, clientIDOf(env))
		return false
	}
	return true
}

func fail(from Replier, event string, err error, clientID string) {
	code := protocol.ErrorCode(err)
	msg := err.Error()
	if code == protocol.CodeInternal || code == protocol.CodeTransientIO {
		slog.Error("event failed", "event", event, "user_id", from.UserID(), "error", err)
		msg = "something went wrong, try again"
	}
	replyError(from, msg, code, clientID)
}

func replyError(to Replier, message, code, clientID string) {
	reply(to, protocol.EventError, protocol.ErrorPayload{
		Message:  message,
		Code:     code,
		ClientID: clientID,
	})
}

func reply(to Replier, event string, payload interface{}) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		slog.Error("failed to encode reply", "event", event, "error", err)
		return
	}
	to.Send(data)
}

// clientIDOf pulls clientId out of a payload that failed to decode fully.
func clientIDOf(env protocol.Envelope) string {
	var p struct {
		ClientID string `json:"clientId"`
	}
	_ = json.Unmarshal(env.Payload, &p)
	return p.ClientID
}
