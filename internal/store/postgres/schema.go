package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    chat_id       TEXT         PRIMARY KEY,
    email         TEXT,
    user_name     TEXT,
    job_title     TEXT,
    messages      JSONB        NOT NULL DEFAULT '[]',
    unlocked_docs TEXT[]       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at
    ON conversations (updated_at);
`

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id            BIGSERIAL    PRIMARY KEY,
    chat_id       TEXT         NOT NULL DEFAULT '',
    email         TEXT         NOT NULL,
    chat_history  JSONB        NOT NULL DEFAULT '[]',
    unlocked_docs TEXT[]       NOT NULL DEFAULT '{}',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_email
    ON contacts (email);

CREATE INDEX IF NOT EXISTS idx_contacts_chat_id
    ON contacts (chat_id);
`

// Migrate creates or ensures all required tables exist. It is idempotent
// (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and safe to call
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlConversations,
		ddlContacts,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
