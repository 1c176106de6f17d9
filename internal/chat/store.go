package chat

import (
	"context"

	"github.com/umar/rental-chat/internal/models"
)

// Store is the Chat Store contract the gateway and tracker depend on.
// database.PostgresStore and database.MemoryStore implement it.
type Store interface {
	FindOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error)
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
	AppendMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)
	ListMessages(ctx context.Context, chatID string, sinceID int64, limit int) ([]models.Message, error)
	// MarkRead returns how many messages flipped to read and how many
	// addressed to userID remain unread in the chat.
	MarkRead(ctx context.Context, chatID, userID string) (updated, remaining int, err error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type Emitter interface {
	EmitToUser(userID, event string, payload interface{}) int
}

type Notifier interface {
	Notify(ctx context.Context, userID string, typ models.NotificationType, message string, ref *string) (*models.Notification, error)
}

// ObjectStore persists attachment bytes and returns a public URL.
type ObjectStore interface {
	Store(ctx context.Context, data []byte, mimeType string) (string, error)
}
