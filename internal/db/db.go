package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the Postgres pool and runs migrations.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied", "driver", "postgres")
	return db, nil
}

// The users, creators and sessions tables belong to the identity and profile services.
// They are created here only so a fresh database boots; the chat service never writes them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id UUID PRIMARY KEY,
        name TEXT NOT NULL DEFAULT '',
        email TEXT NOT NULL DEFAULT '',
        profile_image TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS creators (
        id UUID PRIMARY KEY,
        user_id UUID NOT NULL,
        display_name TEXT NOT NULL DEFAULT '',
        profile_photo TEXT NOT NULL DEFAULT '',
        verification_status TEXT NOT NULL DEFAULT '',
        primary_category TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS sessions (
        refresh_token TEXT PRIMARY KEY,
        user_id UUID NOT NULL,
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        expires_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS chats (
        id UUID PRIMARY KEY,
        creator_id UUID NOT NULL,
        user_id UUID NOT NULL,
        last_message_content TEXT,
        last_message_sender_id UUID,
        last_message_at TIMESTAMPTZ,
        last_message_type TEXT,
        is_active BOOLEAN NOT NULL DEFAULT TRUE,
        is_blocked BOOLEAN NOT NULL DEFAULT FALSE,
        blocked_by UUID,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        UNIQUE(creator_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS chats_updated_at_idx ON chats (updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
        chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
        user_id UUID NOT NULL,
        role TEXT NOT NULL,
        position SMALLINT NOT NULL,
        unread_count INT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
        joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY(chat_id, user_id)
    );`,
	`CREATE INDEX IF NOT EXISTS chat_participants_user_idx ON chat_participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
        id UUID PRIMARY KEY,
        chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
        sender_id UUID NOT NULL,
        sender_role TEXT NOT NULL,
        content TEXT NOT NULL DEFAULT '',
        type TEXT NOT NULL DEFAULT 'text',
        media_url TEXT NOT NULL DEFAULT '',
        media_metadata JSONB,
        is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
        reply_to UUID,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages (chat_id, created_at DESC);`,
	`CREATE INDEX IF NOT EXISTS messages_sender_idx ON messages (sender_id);`,
	`CREATE TABLE IF NOT EXISTS message_reads (
        message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
        user_id UUID NOT NULL,
        read_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY(message_id, user_id)
    );`,
	`CREATE TABLE IF NOT EXISTS message_hidden (
        message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
        user_id UUID NOT NULL,
        PRIMARY KEY(message_id, user_id)
    );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
