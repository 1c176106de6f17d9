package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/umar/rental-chat/internal/models"
	"github.com/umar/rental-chat/internal/protocol"
)

type ReadResult struct {
	UpdatedCount    int `json:"updatedCount"`
	UnreadRemaining int `json:"unreadRemaining"`
}

// Tracker owns read receipts and unread badges.
type Tracker struct {
	store Store
	hub   Emitter
}

func NewTracker(store Store, hub Emitter) *Tracker {
	return &Tracker{store: store, hub: hub}
}

// MarkChatRead marks everything addressed to userID in the chat as read
// and returns the user's unread total across all chats. The other
// participant is told their messages were seen, and the reader's other
// devices get the new badge.
func (t *Tracker) MarkChatRead(ctx context.Context, chatID, userID string) (ReadResult, error) {
	chat, err := t.store.GetChat(ctx, chatID)
	if err != nil {
		return ReadResult{}, err
	}
	if !chat.HasParticipant(userID) {
		return ReadResult{}, models.ErrForbidden
	}

	updated, _, err := t.store.MarkRead(ctx, chatID, userID)
	if err != nil {
		return ReadResult{}, fmt.Errorf("failed to mark chat read: %w", err)
	}
	total, err := t.store.UnreadCount(ctx, userID)
	if err != nil {
		return ReadResult{}, fmt.Errorf("failed to count unread: %w", err)
	}

	if updated > 0 {
		t.hub.EmitToUser(chat.Peer(userID), protocol.EventMessagesRead, protocol.MessagesReadPayload{
			ChatID:       chatID,
			UserID:       userID,
			UpdatedCount: updated,
		})
	}
	t.hub.EmitToUser(userID, protocol.EventUnreadCountUpdate, protocol.UnreadCountPayload{
		Count: total,
		Scope: protocol.ScopeMessages,
	})

	return ReadResult{UpdatedCount: updated, UnreadRemaining: total}, nil
}

func (t *Tracker) GetUnreadCount(ctx context.Context, userID string) (int, error) {
	return t.store.UnreadCount(ctx, userID)
}

// PublishUnreadCount pushes userID's current badge to their connections.
func (t *Tracker) PublishUnreadCount(ctx context.Context, userID string) {
	total, err := t.store.UnreadCount(ctx, userID)
	if err != nil {
		slog.Warn("failed to count unread", "user_id", userID, "error", err)
		return
	}
	t.hub.EmitToUser(userID, protocol.EventUnreadCountUpdate, protocol.UnreadCountPayload{
		Count: total,
		Scope: protocol.ScopeMessages,
	})
}
