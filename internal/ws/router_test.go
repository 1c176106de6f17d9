package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/umar/rental-chat/internal/call"
	"github.com/umar/rental-chat/internal/chat"
	"github.com/umar/rental-chat/internal/database"
	"github.com/umar/rental-chat/internal/hub"
	"github.com/umar/rental-chat/internal/hub/hubtest"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/notify"
	"github.com/umar/rental-chat/internal/protocol"
)

type stack struct {
	hub    *hub.Hub
	store  *database.MemoryStore
	calls  *call.Service
	router *Router
	chatID string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	store := database.NewMemoryStore()
	h := hub.New()
	notifier := notify.NewDispatcher(store, h)
	tracker := chat.NewTracker(store, h)
	gateway := chat.NewGateway(store, h, tracker, notifier)
	calls := call.New(store, h, call.WithMissedCallNotifier(notifier))
	t.Cleanup(calls.Shutdown)

	c, err := store.FindOrCreateChat(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	return &stack{
		hub:    h,
		store:  store,
		calls:  calls,
		router: NewRouter(gateway, tracker, calls),
		chatID: c.ID,
	}
}

func (s *stack) connect(userID string) *hubtest.Conn {
	c := hubtest.NewConn(userID)
	s.hub.Register(c)
	return c
}

func envelope(t *testing.T, event string, payload interface{}) protocol.Envelope {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestRouterSendMessageUsesConnectionIdentity(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")

	s.router.Handle(context.Background(), alice, envelope(t, protocol.EventSendMessage, protocol.SendMessagePayload{
		ClientID:   "tmp-1",
		ChatID:     s.chatID,
		ReceiverID: "bob",
		Type:       models.MessageText,
		Content:    "hello",
	}))

	var msg models.Message
	bob.Last(t, protocol.EventNewMessage, &msg)
	if msg.SenderID != "alice" || msg.Content != "hello" {
		t.Errorf("bob got %+v", msg)
	}
	var ack protocol.MessageSentPayload
	alice.Last(t, protocol.EventMessageSent, &ack)
	if ack.ClientID != "tmp-1" {
		t.Errorf("ack clientId = %q", ack.ClientID)
	}
}

func TestRouterSendMessageFailureCarriesClientID(t *testing.T) {
	s := newStack(t)
	mallory := s.connect("mallory")

	s.router.Handle(context.Background(), mallory, envelope(t, protocol.EventSendMessage, protocol.SendMessagePayload{
		ClientID:   "tmp-9",
		ChatID:     s.chatID,
		ReceiverID: "bob",
		Type:       models.MessageText,
		Content:    "let me in",
	}))

	var e protocol.ErrorPayload
	mallory.Last(t, protocol.EventError, &e)
	if e.Code != protocol.CodeForbidden || e.ClientID != "tmp-9" {
		t.Errorf("error = %+v", e)
	}
}

func TestRouterMarkRead(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	ctx := context.Background()

	s.router.Handle(ctx, alice, envelope(t, protocol.EventSendMessage, protocol.SendMessagePayload{
		ChatID: s.chatID, ReceiverID: "bob", Type: models.MessageText, Content: "hi",
	}))
	s.router.Handle(ctx, bob, envelope(t, protocol.EventMarkRead, protocol.ChatPayload{ChatID: s.chatID}))

	var seen protocol.MessagesReadPayload
	alice.Last(t, protocol.EventMessagesRead, &seen)
	if seen.UserID != "bob" || seen.UpdatedCount != 1 {
		t.Errorf("messages_read = %+v", seen)
	}
}

func TestRouterCallFlow(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	ctx := context.Background()

	s.router.Handle(ctx, alice, envelope(t, protocol.EventIncomingCall, protocol.InitiateCallPayload{ChatID: s.chatID, ReceiverID: "bob"}))
	if bob.Count(protocol.EventIncomingCall) != 1 {
		t.Fatal("bob is not ringing")
	}
	s.router.Handle(ctx, bob, envelope(t, protocol.EventCallAccepted, protocol.ChatPayload{ChatID: s.chatID}))
	if alice.Count(protocol.EventCallAccepted) != 1 {
		t.Fatal("alice did not see the answer")
	}

	// Accepting again is an invalid transition: error plus a state resync.
	s.router.Handle(ctx, bob, envelope(t, protocol.EventCallAccepted, protocol.ChatPayload{ChatID: s.chatID}))
	var e protocol.ErrorPayload
	bob.Last(t, protocol.EventError, &e)
	if e.Code != protocol.CodeInvalidState {
		t.Errorf("code = %q", e.Code)
	}
	var state protocol.CallStatePayload
	bob.Last(t, protocol.EventCallState, &state)
	if state.State != models.CallActive {
		t.Errorf("resync state = %s", state.State)
	}

	s.router.Handle(ctx, alice, envelope(t, protocol.EventCallEnded, protocol.ChatPayload{ChatID: s.chatID}))
	if bob.Count(protocol.EventCallEnded) != 1 {
		t.Error("bob did not see the hangup")
	}
}

func TestRouterUnreachableCallHasNoExtraError(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")

	s.router.Handle(context.Background(), alice, envelope(t, protocol.EventIncomingCall, protocol.InitiateCallPayload{ChatID: s.chatID, ReceiverID: "bob"}))

	var rejected protocol.CallPayload
	alice.Last(t, protocol.EventCallRejected, &rejected)
	if rejected.Reason != protocol.ReasonUnreachable {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if alice.Count(protocol.EventError) != 0 {
		t.Error("unreachable should not also produce an error event")
	}
}

func TestRouterDisconnectedEndsCalls(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	ctx := context.Background()

	s.router.Handle(ctx, alice, envelope(t, protocol.EventIncomingCall, protocol.InitiateCallPayload{ChatID: s.chatID, ReceiverID: "bob"}))
	s.hub.Unregister(bob)
	s.router.Disconnected("bob")

	var ended protocol.CallPayload
	alice.Last(t, protocol.EventCallEnded, &ended)
	if ended.Reason != protocol.ReasonDisconnected {
		t.Errorf("reason = %q", ended.Reason)
	}
}

func TestRouterRejectsBadInput(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	ctx := context.Background()

	s.router.Handle(ctx, alice, protocol.Envelope{Type: "teleport"})
	s.router.Handle(ctx, alice, protocol.Envelope{Type: protocol.EventMarkRead})
	s.router.Handle(ctx, alice, protocol.Envelope{Type: protocol.EventSendMessage, Payload: json.RawMessage(`{"clientId":"x","chatId":5}`)})

	errs := alice.Events(protocol.EventError)
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3", len(errs))
	}
	var last protocol.ErrorPayload
	json.Unmarshal(errs[2].Payload, &last)
	if last.Code != protocol.CodeInvalidPayload || last.ClientID != "x" {
		t.Errorf("last error = %+v", last)
	}
}

func TestRouterPing(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	s.router.Handle(context.Background(), alice, protocol.Envelope{Type: protocol.EventPing})
	if alice.Count(protocol.EventPong) != 1 {
		t.Error("no pong")
	}
}
