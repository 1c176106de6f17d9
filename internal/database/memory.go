package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umar/rental-chat/internal/models"
)

// MemoryStore keeps chats, messages and notifications in process memory.
// It backs STORE_BACKEND=memory and the unit tests. Every operation runs
// under one mutex, which gives each call the same atomic read-modify-write
// contract the Postgres store gets from single statements and transactions.
type MemoryStore struct {
	mu sync.Mutex

	chats     map[string]*models.Chat
	pairs     map[[2]string]string
	messages  map[string][]*models.Message
	lastMsgID int64

	notifications []*models.Notification
	lastNotifID   int64

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*models.Chat),
		pairs:    make(map[[2]string]string),
		messages: make(map[string][]*models.Message),
		now:      time.Now,
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (s *MemoryStore) FindOrCreateChat(_ context.Context, userA, userB string) (*models.Chat, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, models.ErrInvalidParticipants
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(userA, userB)
	if id, ok := s.pairs[key]; ok {
		c := *s.chats[id]
		return &c, nil
	}
	c := &models.Chat{
		ID:         uuid.NewString(),
		UserID:     userA,
		ReceiverID: userB,
		CreatedAt:  s.now().UTC(),
	}
	s.chats[c.ID] = c
	s.pairs[key] = c.ID
	out := *c
	return &out, nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) ListChats(_ context.Context, userID string) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := []models.ChatSummary{}
	for _, c := range s.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		sum := models.ChatSummary{Chat: *c}
		msgs := s.messages[c.ID]
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = last.Content
			sum.LastMessageType = last.Type
		}
		for _, m := range msgs {
			if m.ReceiverID == userID && !m.Read {
				sum.UnreadForUser++
			}
		}
		summaries = append(summaries, sum)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return activity(summaries[i].Chat).After(activity(summaries[j].Chat))
	})
	return summaries, nil
}

func activity(c models.Chat) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (s *MemoryStore) AppendMessage(_ context.Context, nm models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[nm.ChatID]
	if !ok {
		return nil, models.ErrChatNotFound
	}
	sentAt := s.now().UTC()
	if c.LastMessageAt != nil && sentAt.Before(*c.LastMessageAt) {
		sentAt = *c.LastMessageAt
	}
	s.lastMsgID++
	m := &models.Message{
		ID:         s.lastMsgID,
		ChatID:     nm.ChatID,
		SenderID:   nm.SenderID,
		ReceiverID: nm.ReceiverID,
		Type:       nm.Type,
		Content:    nm.Content,
		SentAt:     sentAt,
	}
	s.messages[nm.ChatID] = append(s.messages[nm.ChatID], m)
	c.LastMessageAt = &sentAt
	c.UnreadCount++

	out := *m
	return &out, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string, sinceID int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[chatID]; !ok {
		return nil, models.ErrChatNotFound
	}
	out := []models.Message{}
	for _, m := range s.messages[chatID] {
		if m.ID <= sinceID {
			continue
		}
		out = append(out, *m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, chatID, userID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return 0, 0, models.ErrChatNotFound
	}
	updated := 0
	unread := 0
	for _, m := range s.messages[chatID] {
		if m.ReceiverID == userID && !m.Read {
			m.Read = true
			updated++
		}
		if !m.Read {
			unread++
		}
	}
	c.UnreadCount = unread

	remaining := 0
	for _, m := range s.messages[chatID] {
		if m.ReceiverID == userID && !m.Read {
			remaining++
		}
	}
	return updated, remaining, nil
}

func (s *MemoryStore) UnreadCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ReceiverID == userID && !m.Read {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n models.Notification) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNotifID++
	n.ID = s.lastNotifID
	n.IsRead = false
	n.CreatedAt = s.now().UTC()
	stored := n
	s.notifications = append(s.notifications, &stored)
	out := stored
	return &out, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID != userID {
			continue
		}
		out = append(out, *n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationsRead(_ context.Context, userID string, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	updated := 0
	for _, n := range s.notifications {
		if n.UserID == userID && wanted[n.ID] && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (s *MemoryStore) UnreadNotificationCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Close() error { return nil }
