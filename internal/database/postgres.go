package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/umar/rental-chat/internal/models"
)

func InitDB(ctx context.Context, databaseURL string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore is the durable Chat Store. Operations that touch more than
// one row run in a transaction that first locks the chat row, so appends
// and read-state updates on one chat serialize while different chats
// proceed in parallel.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", models.ErrTransientIO, op, err)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return transient("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = transient("commit transaction", cerr)
		}
	}()
	return fn(tx)
}

// --- Chats ---

const chatColumns = `id, user_id, receiver_id, last_message_at, unread_count, created_at`

func (s *PostgresStore) FindOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, models.ErrInvalidParticipants
	}

	var c models.Chat
	err := s.db.GetContext(ctx, &c, `
		INSERT INTO chats (user_id, receiver_id) VALUES ($1, $2)
		ON CONFLICT ((LEAST(user_id, receiver_id)), (GREATEST(user_id, receiver_id))) DO NOTHING
		RETURNING `+chatColumns, userA, userB)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, transient("create chat", err)
	}

	// Lost the insert to an existing row for the same unordered pair.
	err = s.db.GetContext(ctx, &c, `
		SELECT `+chatColumns+` FROM chats
		WHERE LEAST(user_id, receiver_id) = LEAST($1::text, $2::text)
		  AND GREATEST(user_id, receiver_id) = GREATEST($1::text, $2::text)`, userA, userB)
	if err != nil {
		return nil, transient("get chat by pair", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	if _, err := uuid.Parse(chatID); err != nil {
		return nil, models.ErrChatNotFound
	}
	var c models.Chat
	err := s.db.GetContext(ctx, &c, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrChatNotFound
		}
		return nil, transient("get chat", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	chats := []models.ChatSummary{}
	err := s.db.SelectContext(ctx, &chats, `
		SELECT c.id, c.user_id, c.receiver_id, c.last_message_at, c.unread_count, c.created_at,
		       COALESCE(last_msg.content, '') AS last_message,
		       COALESCE(last_msg.type, '') AS last_message_type,
		       COALESCE(unread.cnt, 0) AS unread_for_user
		FROM chats c
		LEFT JOIN LATERAL (
		    SELECT COUNT(*) AS cnt FROM messages m
		    WHERE m.chat_id = c.id AND m.receiver_id = $1 AND NOT m.read
		) unread ON true
		LEFT JOIN LATERAL (
		    SELECT content, type FROM messages
		    WHERE chat_id = c.id ORDER BY sent_at DESC, id DESC LIMIT 1
		) last_msg ON true
		WHERE c.user_id = $1 OR c.receiver_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, transient("list chats", err)
	}
	return chats, nil
}

// --- Messages ---

const messageColumns = `id, chat_id, sender_id, receiver_id, type, content, sent_at, read`

// AppendMessage stamps the message with the server clock, never earlier
// than the chat's previous message, and bumps the chat's counters in the
// same transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, nm models.NewMessage) (*models.Message, error) {
	if _, err := uuid.Parse(nm.ChatID); err != nil {
		return nil, models.ErrChatNotFound
	}
	var m models.Message
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var sentAt time.Time
		err := tx.GetContext(ctx, &sentAt, `
			UPDATE chats
			SET last_message_at = GREATEST(COALESCE(last_message_at, '-infinity'::timestamptz), clock_timestamp()),
			    unread_count = unread_count + 1
			WHERE id = $1
			RETURNING last_message_at`, nm.ChatID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrChatNotFound
			}
			return transient("bump chat", err)
		}

		err = tx.GetContext(ctx, &m, `
			INSERT INTO messages (chat_id, sender_id, receiver_id, type, content, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+messageColumns,
			nm.ChatID, nm.SenderID, nm.ReceiverID, nm.Type, nm.Content, sentAt)
		if err != nil {
			return transient("insert message", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, sinceID int64, limit int) ([]models.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	var pageSize sql.NullInt64
	if limit > 0 {
		pageSize = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	messages := []models.Message{}
	err := s.db.SelectContext(ctx, &messages, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND id > $2
		ORDER BY sent_at ASC, id ASC
		LIMIT $3`, chatID, sinceID, pageSize)
	if err != nil {
		return nil, transient("list messages", err)
	}
	return messages, nil
}

// MarkRead flips every unread message addressed to userID in the chat.
// The conditional UPDATE makes concurrent calls split the rows between
// them instead of counting any row twice.
func (s *PostgresStore) MarkRead(ctx context.Context, chatID, userID string) (int, int, error) {
	if _, err := uuid.Parse(chatID); err != nil {
		return 0, 0, models.ErrChatNotFound
	}
	var updated, remaining int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return models.ErrChatNotFound
			}
			return transient("lock chat", err)
		}

		err := tx.GetContext(ctx, &updated, `
			WITH flipped AS (
			    UPDATE messages SET read = TRUE
			    WHERE chat_id = $1 AND receiver_id = $2 AND NOT read
			    RETURNING id
			)
			SELECT COUNT(*) FROM flipped`, chatID, userID)
		if err != nil {
			return transient("mark messages read", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE chats
			SET unread_count = (SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND NOT read)
			WHERE id = $1`, chatID); err != nil {
			return transient("recompute unread count", err)
		}

		err = tx.GetContext(ctx, &remaining, `
			SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND receiver_id = $2 AND NOT read`,
			chatID, userID)
		if err != nil {
			return transient("count unread", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return updated, remaining, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT read`, userID)
	if err != nil {
		return 0, transient("count unread", err)
	}
	return count, nil
}

// --- Notifications ---

const notificationColumns = `id, user_id, type, message, reference, is_read, created_at`

func (s *PostgresStore) CreateNotification(ctx context.Context, n models.Notification) (*models.Notification, error) {
	var out models.Notification
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO notifications (user_id, type, message, reference)
		VALUES ($1, $2, $3, $4)
		RETURNING `+notificationColumns, n.UserID, n.Type, n.Message, n.Reference)
	if err != nil {
		return nil, transient("create notification", err)
	}
	return &out, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var pageSize sql.NullInt64
	if limit > 0 {
		pageSize = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	list := []models.Notification{}
	err := s.db.SelectContext(ctx, &list, `
		SELECT `+notificationColumns+` FROM notifications
		WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, pageSize)
	if err != nil {
		return nil, transient("list notifications", err)
	}
	return list, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, userID string, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE user_id = $1 AND id = ANY($2) AND NOT is_read`, userID, pq.Array(ids))
	if err != nil {
		return 0, transient("mark notifications read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, transient("mark notifications read", err)
	}
	return int(n), nil
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, transient("count unread notifications", err)
	}
	return count, nil
}
