package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jjrasche/voice-chat-app/internal/store"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// ContactStoreImpl implements [store.ContactStore] on an append-only
// contacts table.
//
// Obtain one via [Store.Contacts] rather than constructing directly.
// All methods are safe for concurrent use.
type ContactStoreImpl struct {
	pool *pgxpool.Pool
}

// Add implements [store.ContactStore].
func (s *ContactStoreImpl) Add(ctx context.Context, c store.Contact) (store.Contact, error) {
	if !strings.Contains(c.Email, "@") {
		return store.Contact{}, store.ErrInvalidEmail
	}

	history := c.ChatHistory
	if history == nil {
		history = []types.Message{}
	}
	historyData, err := json.Marshal(history)
	if err != nil {
		return store.Contact{}, fmt.Errorf("contact store: marshal history: %w", err)
	}
	docs := c.UnlockedDocs
	if docs == nil {
		docs = []string{}
	}

	const q = `
		INSERT INTO contacts (chat_id, email, chat_history, unlocked_docs)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	row := s.pool.QueryRow(ctx, q, c.ChatID, c.Email, historyData, docs)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return store.Contact{}, fmt.Errorf("contact store: add: %w", err)
	}
	return c, nil
}
