package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jjrasche/voice-chat-app/internal/store"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// ConversationStoreImpl implements [store.ConversationStore] on a
// conversations table keyed by chat ID.
//
// Obtain one via [Store.Conversations] rather than constructing directly.
// All methods are safe for concurrent use.
type ConversationStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [store.ConversationStore]. Scalar fields only overwrite
// the stored row when the incoming value is non-nil; the message and unlock
// lists replace the stored lists wholesale.
func (s *ConversationStoreImpl) Upsert(ctx context.Context, u store.ConversationUpsert) (store.Conversation, error) {
	if u.ChatID == "" {
		return store.Conversation{}, store.ErrMissingChatID
	}

	msgs := u.Messages
	if msgs == nil {
		msgs = []types.Message{}
	}
	msgData, err := json.Marshal(msgs)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("conversation store: marshal messages: %w", err)
	}
	docs := u.UnlockedDocs
	if docs == nil {
		docs = []string{}
	}

	const q = `
		INSERT INTO conversations (chat_id, email, user_name, job_title, messages, unlocked_docs)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id)
		DO UPDATE SET
			email         = COALESCE(EXCLUDED.email, conversations.email),
			user_name     = COALESCE(EXCLUDED.user_name, conversations.user_name),
			job_title     = COALESCE(EXCLUDED.job_title, conversations.job_title),
			messages      = EXCLUDED.messages,
			unlocked_docs = EXCLUDED.unlocked_docs,
			updated_at    = now()
		RETURNING chat_id, email, user_name, job_title, messages, unlocked_docs, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, u.ChatID, u.Email, u.UserName, u.JobTitle, msgData, docs)
	conv, err := scanConversation(row)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("conversation store: upsert: %w", err)
	}
	return conv, nil
}

// Get implements [store.ConversationStore].
func (s *ConversationStoreImpl) Get(ctx context.Context, chatID string) (store.Conversation, error) {
	const q = `
		SELECT chat_id, email, user_name, job_title, messages, unlocked_docs, created_at, updated_at
		FROM   conversations
		WHERE  chat_id = $1`

	row := s.pool.QueryRow(ctx, q, chatID)
	conv, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("conversation store: get: %w", err)
	}
	return conv, nil
}

// scanConversation reads one conversations row.
func scanConversation(row pgx.Row) (store.Conversation, error) {
	var (
		conv    store.Conversation
		email   *string
		name    *string
		job     *string
		msgData []byte
	)
	if err := row.Scan(
		&conv.ChatID, &email, &name, &job,
		&msgData, &conv.UnlockedDocs,
		&conv.CreatedAt, &conv.UpdatedAt,
	); err != nil {
		return store.Conversation{}, err
	}
	if email != nil {
		conv.Email = *email
	}
	if name != nil {
		conv.UserName = *name
	}
	if job != nil {
		conv.JobTitle = *job
	}
	if err := json.Unmarshal(msgData, &conv.Messages); err != nil {
		return store.Conversation{}, fmt.Errorf("decode messages: %w", err)
	}
	return conv, nil
}
