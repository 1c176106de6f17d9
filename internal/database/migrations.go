package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS chats (
    id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id         TEXT NOT NULL,
    receiver_id     TEXT NOT NULL,
    last_message_at TIMESTAMPTZ,
    unread_count    INTEGER NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (user_id <> receiver_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_pair
    ON chats ((LEAST(user_id, receiver_id)), (GREATEST(user_id, receiver_id)));
CREATE INDEX IF NOT EXISTS idx_chats_user ON chats (user_id);
CREATE INDEX IF NOT EXISTS idx_chats_receiver ON chats (receiver_id);

CREATE TABLE IF NOT EXISTS messages (
    id          BIGSERIAL PRIMARY KEY,
    chat_id     UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    sender_id   TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    type        VARCHAR(10) NOT NULL CHECK (type IN ('TEXT', 'IMAGE', 'AUDIO')),
    content     TEXT NOT NULL,
    sent_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    read        BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_messages_chat_order ON messages (chat_id, sent_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages (receiver_id, chat_id) WHERE NOT read;

CREATE TABLE IF NOT EXISTS notifications (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL,
    type       VARCHAR(40) NOT NULL,
    message    TEXT NOT NULL,
    reference  TEXT,
    is_read    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications (user_id) WHERE NOT is_read;
`

func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
