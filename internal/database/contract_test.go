package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/umar/rental-chat/internal/models"
)

type store interface {
	FindOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	AppendMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, sinceID int64, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, chatID, userID string) (int, int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	CreateNotification(ctx context.Context, n models.Notification) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, userID string, ids []int64) (int, error)
	UnreadNotificationCount(ctx context.Context, userID string) (int, error)
}

// users returns n user ids unique to this run so integration tests can
// share a database.
func users(n int) []string {
	prefix := uuid.NewString()[:8]
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-user-%d", prefix, i)
	}
	return ids
}

func send(t *testing.T, s store, chat *models.Chat, from, to, text string) *models.Message {
	t.Helper()
	m, err := s.AppendMessage(context.Background(), models.NewMessage{
		ChatID: chat.ID, SenderID: from, ReceiverID: to, Type: models.MessageText, Content: text,
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	return m
}

func runStoreContract(t *testing.T, newStore func(t *testing.T) store) {
	ctx := context.Background()

	t.Run("chat pair is unordered", func(t *testing.T) {
		s := newStore(t)
		u := users(2)
		ab, err := s.FindOrCreateChat(ctx, u[0], u[1])
		if err != nil {
			t.Fatal(err)
		}
		ba, err := s.FindOrCreateChat(ctx, u[1], u[0])
		if err != nil {
			t.Fatal(err)
		}
		if ab.ID != ba.ID {
			t.Fatalf("expected same chat, got %s and %s", ab.ID, ba.ID)
		}
	})

	t.Run("concurrent creation yields one chat", func(t *testing.T) {
		s := newStore(t)
		u := users(2)
		var wg sync.WaitGroup
		ids := make([]string, 10)
		errs := make([]error, 10)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, b := u[0], u[1]
				if i%2 == 1 {
					a, b = b, a
				}
				c, err := s.FindOrCreateChat(ctx, a, b)
				errs[i] = err
				if err == nil {
					ids[i] = c.ID
				}
			}(i)
		}
		wg.Wait()
		for i := range ids {
			if errs[i] != nil {
				t.Fatalf("create %d: %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Fatalf("duplicate chat created: %s vs %s", ids[i], ids[0])
			}
		}
	})

	t.Run("self chat is rejected", func(t *testing.T) {
		s := newStore(t)
		u := users(1)
		if _, err := s.FindOrCreateChat(ctx, u[0], u[0]); !errors.Is(err, models.ErrInvalidParticipants) {
			t.Fatalf("expected ErrInvalidParticipants, got %v", err)
		}
	})

	t.Run("unknown chat", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetChat(ctx, uuid.NewString()); !errors.Is(err, models.ErrChatNotFound) {
			t.Fatalf("expected ErrChatNotFound, got %v", err)
		}
		_, err := s.AppendMessage(ctx, models.NewMessage{
			ChatID: "not-a-chat", SenderID: "a", ReceiverID: "b", Type: models.MessageText, Content: "hi",
		})
		if !errors.Is(err, models.ErrChatNotFound) {
			t.Fatalf("expected ErrChatNotFound, got %v", err)
		}
	})

	t.Run("messages keep submission order", func(t *testing.T) {
		s := newStore(t)
		u := users(2)
		chat, _ := s.FindOrCreateChat(ctx, u[0], u[1])
		for i := 0; i < 20; i++ {
			send(t, s, chat, u[0], u[1], fmt.Sprintf("m%d", i))
		}
		msgs, err := s.ListMessages(ctx, chat.ID, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 20 {
			t.Fatalf("expected 20 messages, got %d", len(msgs))
		}
		for i, m := range msgs {
			if m.Content != fmt.Sprintf("m%d", i) {
				t.Fatalf("position %d holds %q", i, m.Content)
			}
			if i > 0 && m.SentAt.Before(msgs[i-1].SentAt) {
				t.Fatalf("sentAt went backwards at %d", i)
			}
			if m.Read {
				t.Fatalf("new message %d already read", m.ID)
			}
		}

		tail, err := s.ListMessages(ctx, chat.ID, msgs[14].ID, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(tail) != 3 || tail[0].Content != "m15" || tail[2].Content != "m17" {
			t.Fatalf("unexpected incremental page %+v", tail)
		}

		got, _ := s.GetChat(ctx, chat.ID)
		if got.LastMessageAt == nil || !got.LastMessageAt.Equal(msgs[19].SentAt) {
			t.Fatalf("lastMessageAt not bumped: %v", got.LastMessageAt)
		}
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		s := newStore(t)
		u := users(2)
		chat, _ := s.FindOrCreateChat(ctx, u[0], u[1])
		send(t, s, chat, u[0], u[1], "one")
		send(t, s, chat, u[0], u[1], "two")
		send(t, s, chat, u[1], u[0], "reply")

		updated, remaining, err := s.MarkRead(ctx, chat.ID, u[1])
		if err != nil {
			t.Fatal(err)
		}
		if updated != 2 || remaining != 0 {
			t.Fatalf("expected (2, 0), got (%d, %d)", updated, remaining)
		}
		updated, _, err = s.MarkRead(ctx, chat.ID, u[1])
		if err != nil {
			t.Fatal(err)
		}
		if updated != 0 {
			t.Fatalf("second mark read updated %d", updated)
		}

		got, _ := s.GetChat(ctx, chat.ID)
		if got.UnreadCount != 1 {
			t.Fatalf("chat unread count should converge to 1, got %d", got.UnreadCount)
		}
	})

	t.Run("concurrent mark read flips each message once", func(t *testing.T) {
		s := newStore(t)
		u := users(2)
		chat, _ := s.FindOrCreateChat(ctx, u[0], u[1])
		for i := 0; i < 5; i++ {
			send(t, s, chat, u[0], u[1], fmt.Sprintf("m%d", i))
		}
		var wg sync.WaitGroup
		results := make([]int, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				n, _, err := s.MarkRead(ctx, chat.ID, u[1])
				if err != nil {
					t.Error(err)
				}
				results[i] = n
			}(i)
		}
		wg.Wait()
		if results[0]+results[1] != 5 {
			t.Fatalf("expected 5 flips in total, got %v", results)
		}
		msgs, _ := s.ListMessages(ctx, chat.ID, 0, 0)
		for _, m := range msgs {
			if !m.Read {
				t.Fatalf("message %d still unread", m.ID)
			}
		}
	})

	t.Run("global unread count", func(t *testing.T) {
		s := newStore(t)
		u := users(3)
		first, _ := s.FindOrCreateChat(ctx, u[0], u[1])
		second, _ := s.FindOrCreateChat(ctx, u[2], u[1])
		for i := 1; i <= 3; i++ {
			send(t, s, first, u[0], u[1], "x")
			if n, _ := s.UnreadCount(ctx, u[1]); n != i {
				t.Fatalf("expected %d unread, got %d", i, n)
			}
		}
		send(t, s, second, u[2], u[1], "y")
		send(t, s, second, u[2], u[1], "z")

		if _, _, err := s.MarkRead(ctx, first.ID, u[1]); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.UnreadCount(ctx, u[1]); n != 2 {
			t.Fatalf("expected 2 unread left in the other chat, got %d", n)
		}

		list, err := s.ListChats(ctx, u[1])
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 chats, got %d", len(list))
		}
		if list[0].ID != second.ID || list[0].UnreadForUser != 2 || list[0].LastMessage != "z" {
			t.Fatalf("unexpected newest chat summary %+v", list[0])
		}
	})

	t.Run("notifications", func(t *testing.T) {
		s := newStore(t)
		u := users(1)
		ref := "booking-1"
		var ids []int64
		for i := 0; i < 3; i++ {
			n, err := s.CreateNotification(ctx, models.Notification{
				UserID: u[0], Type: models.NotificationBookingConfirmed, Message: "confirmed", Reference: &ref,
			})
			if err != nil {
				t.Fatal(err)
			}
			if n.IsRead {
				t.Fatal("new notification already read")
			}
			ids = append(ids, n.ID)
		}
		if n, _ := s.UnreadNotificationCount(ctx, u[0]); n != 3 {
			t.Fatalf("expected 3 unread, got %d", n)
		}
		updated, err := s.MarkNotificationsRead(ctx, u[0], ids[:2])
		if err != nil || updated != 2 {
			t.Fatalf("expected 2 updated, got %d (%v)", updated, err)
		}
		updated, _ = s.MarkNotificationsRead(ctx, u[0], ids[:2])
		if updated != 0 {
			t.Fatalf("re-marking updated %d", updated)
		}
		if n, _ := s.UnreadNotificationCount(ctx, u[0]); n != 1 {
			t.Fatalf("expected 1 unread, got %d", n)
		}
		list, _ := s.ListNotifications(ctx, u[0], 2)
		if len(list) != 2 || list[0].ID != ids[2] {
			t.Fatalf("expected newest first, got %+v", list)
		}
		if list[0].Reference == nil || *list[0].Reference != ref {
			t.Fatal("reference not stored")
		}
	})
}
