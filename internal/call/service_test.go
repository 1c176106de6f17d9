package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/umar/rental-chat/internal/database"
	"github.com/umar/rental-chat/internal/hub"
	"github.com/umar/rental-chat/internal/hub/hubtest"
	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) Notify(_ context.Context, userID string, typ models.NotificationType, _ string, _ *string) (*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID+":"+string(typ))
	return &models.Notification{UserID: userID, Type: typ}, nil
}

func (f *fakeNotifier) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	hub      *hub.Hub
	calls    *Service
	notifier *fakeNotifier
	chatID   string
	alice    *hubtest.Conn
	bob      *hubtest.Conn
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	chat, err := store.FindOrCreateChat(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		hub:      hub.New(),
		notifier: &fakeNotifier{},
		chatID:   chat.ID,
		alice:    hubtest.NewConn("alice"),
		bob:      hubtest.NewConn("bob"),
	}
	f.hub.Register(f.alice)
	f.hub.Register(f.bob)

	opts = append([]Option{
		WithMissedCallNotifier(f.notifier),
		WithRoomTokens(func() string { return "room-1" }),
	}, opts...)
	f.calls = New(store, f.hub, opts...)
	t.Cleanup(f.calls.Shutdown)
	return f
}

func (f *fixture) ring(t *testing.T) {
	t.Helper()
	if _, err := f.calls.Initiate(context.Background(), f.chatID, "alice", "bob"); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
}

func TestInitiateAcceptEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.ring(t)
	var incoming protocol.CallPayload
	f.bob.Last(t, protocol.EventIncomingCall, &incoming)
	if incoming.CallerID != "alice" || incoming.RoomToken != "room-1" {
		t.Errorf("unexpected incomingCall %+v", incoming)
	}
	var ringing protocol.CallStatePayload
	f.alice.Last(t, protocol.EventCallState, &ringing)
	if ringing.State != models.CallRinging || ringing.RoomToken != "room-1" {
		t.Errorf("caller state = %+v", ringing)
	}

	sess, err := f.calls.Accept(ctx, f.chatID, "bob")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if sess.State != models.CallActive {
		t.Errorf("state = %s", sess.State)
	}
	if f.alice.Count(protocol.EventCallAccepted) != 1 {
		t.Error("caller did not get callAccepted")
	}

	if err := f.calls.End(ctx, f.chatID, "bob"); err != nil {
		t.Fatalf("End: %v", err)
	}
	var ended protocol.CallPayload
	f.alice.Last(t, protocol.EventCallEnded, &ended)
	if ended.Reason != protocol.ReasonHangup {
		t.Errorf("reason = %q", ended.Reason)
	}
	if _, ok := f.calls.State(f.chatID); ok {
		t.Error("session should be gone")
	}
	if len(f.notifier.snapshot()) != 0 {
		t.Error("answered call should not be reported as missed")
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.ring(t)

	if err := f.calls.Reject(context.Background(), f.chatID, "bob"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	var rejected protocol.CallPayload
	f.alice.Last(t, protocol.EventCallRejected, &rejected)
	if rejected.Reason != protocol.ReasonRejected {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if _, ok := f.calls.State(f.chatID); ok {
		t.Error("session should be gone")
	}
}

func TestInitiateWhileInProgress(t *testing.T) {
	f := newFixture(t)
	f.ring(t)

	_, err := f.calls.Initiate(context.Background(), f.chatID, "bob", "alice")
	if !errors.Is(err, models.ErrCallAlreadyInProgress) {
		t.Fatalf("got %v", err)
	}
	sess, ok := f.calls.State(f.chatID)
	if !ok || sess.CallerID != "alice" || sess.State != models.CallRinging {
		t.Errorf("existing session disturbed: %+v", sess)
	}
}

func TestTransitionsWithoutSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.calls.Accept(ctx, f.chatID, "bob"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("Accept: %v", err)
	}
	if err := f.calls.Reject(ctx, f.chatID, "bob"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("Reject: %v", err)
	}
	if err := f.calls.End(ctx, f.chatID, "alice"); !errors.Is(err, models.ErrInvalidState) {
		t.Errorf("End: %v", err)
	}
	if _, ok := f.calls.State(f.chatID); ok {
		t.Error("failed transitions created a session")
	}

	var state protocol.CallStatePayload
	f.bob.Last(t, protocol.EventCallState, &state)
	if state.State != models.CallIdle {
		t.Errorf("resync state = %s", state.State)
	}
}

func TestCallerCannotAcceptOwnCall(t *testing.T) {
	f := newFixture(t)
	f.ring(t)

	if _, err := f.calls.Accept(context.Background(), f.chatID, "alice"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("got %v", err)
	}
	if sess, _ := f.calls.State(f.chatID); sess.State != models.CallRinging {
		t.Errorf("state = %s", sess.State)
	}
}

func TestInitiateUnreachable(t *testing.T) {
	f := newFixture(t)
	f.hub.Unregister(f.bob)

	_, err := f.calls.Initiate(context.Background(), f.chatID, "alice", "bob")
	if !errors.Is(err, models.ErrReceiverUnreachable) {
		t.Fatalf("got %v", err)
	}
	if _, ok := f.calls.State(f.chatID); ok {
		t.Error("unreachable call left a session")
	}
	var rejected protocol.CallPayload
	f.alice.Last(t, protocol.EventCallRejected, &rejected)
	if rejected.Reason != protocol.ReasonUnreachable {
		t.Errorf("reason = %q", rejected.Reason)
	}
	if got := f.notifier.snapshot(); len(got) != 1 || got[0] != "bob:MISSED_CALL" {
		t.Errorf("notifications = %v", got)
	}
}

func TestInitiateOutsider(t *testing.T) {
	f := newFixture(t)
	_, err := f.calls.Initiate(context.Background(), f.chatID, "mallory", "bob")
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("got %v", err)
	}
}

func TestRingingTimeout(t *testing.T) {
	f := newFixture(t, WithRingTimeout(20*time.Millisecond))
	f.ring(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := f.calls.State(f.chatID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session still ringing after timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, c := range []*hubtest.Conn{f.alice, f.bob} {
		var p protocol.CallPayload
		c.Last(t, protocol.EventCallRejected, &p)
		if p.Reason != protocol.ReasonTimeout {
			t.Errorf("%s reason = %q", c.UserID(), p.Reason)
		}
	}
	if got := f.notifier.snapshot(); len(got) != 1 || got[0] != "bob:MISSED_CALL" {
		t.Errorf("notifications = %v", got)
	}
}

func TestAcceptStopsTimer(t *testing.T) {
	f := newFixture(t, WithRingTimeout(20*time.Millisecond))
	f.ring(t)
	if _, err := f.calls.Accept(context.Background(), f.chatID, "bob"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	sess, ok := f.calls.State(f.chatID)
	if !ok || sess.State != models.CallActive {
		t.Fatalf("active call was timed out: %+v", sess)
	}
	if f.alice.Count(protocol.EventCallRejected) != 0 {
		t.Error("caller got a rejection for an answered call")
	}
}

func TestConcurrentAcceptRejectHasOneWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		f.ring(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var acceptErr, rejectErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = f.calls.Accept(ctx, f.chatID, "bob")
		}()
		go func() {
			defer wg.Done()
			rejectErr = f.calls.Reject(ctx, f.chatID, "bob")
		}()
		wg.Wait()

		if (acceptErr == nil) == (rejectErr == nil) {
			t.Fatalf("accept=%v reject=%v, want exactly one winner", acceptErr, rejectErr)
		}
		sess, ok := f.calls.State(f.chatID)
		if acceptErr == nil && (!ok || sess.State != models.CallActive) {
			t.Fatalf("accept won but state is %+v", sess)
		}
		if rejectErr == nil && ok {
			t.Fatalf("reject won but session remains: %+v", sess)
		}
	}
}

func TestHandleDisconnect(t *testing.T) {
	f := newFixture(t)
	f.ring(t)
	if _, err := f.calls.Accept(context.Background(), f.chatID, "bob"); err != nil {
		t.Fatal(err)
	}

	f.calls.HandleDisconnect("bob")

	var ended protocol.CallPayload
	f.alice.Last(t, protocol.EventCallEnded, &ended)
	if ended.Reason != protocol.ReasonDisconnected {
		t.Errorf("reason = %q", ended.Reason)
	}
	if _, ok := f.calls.State(f.chatID); ok {
		t.Error("session should be gone")
	}
}

func TestCallerHangsUpWhileRinging(t *testing.T) {
	f := newFixture(t)
	f.ring(t)

	if err := f.calls.End(context.Background(), f.chatID, "alice"); err != nil {
		t.Fatal(err)
	}
	if f.bob.Count(protocol.EventCallEnded) != 1 {
		t.Error("receiver should stop ringing")
	}
	if got := f.notifier.snapshot(); len(got) != 1 {
		t.Errorf("notifications = %v, want one missed call", got)
	}
}
