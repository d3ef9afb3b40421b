// Package store defines the persistence interfaces for conversations and
// captured contacts, plus the shared record types. The PostgreSQL
// implementation lives in the postgres subpackage; the mock subpackage
// provides in-memory test doubles.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrMissingChatID is returned when an upsert arrives without a chat ID.
var ErrMissingChatID = errors.New("store: chat id required")

// ErrInvalidEmail is returned when a contact is submitted without a
// plausible email address.
var ErrInvalidEmail = errors.New("store: valid email required")

// Conversation is one visitor's saved chat.
type Conversation struct {
	ChatID       string          `json:"chatId"`
	Email        string          `json:"email,omitempty"`
	UserName     string          `json:"userName,omitempty"`
	JobTitle     string          `json:"jobTitle,omitempty"`
	Messages     []types.Message `json:"messages"`
	UnlockedDocs []string        `json:"unlockedDocs"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ConversationUpsert carries one save. Nil scalar pointers mean "keep the
// stored value"; Messages and UnlockedDocs always replace the stored lists
// wholesale, so callers send the full current state each time.
type ConversationUpsert struct {
	ChatID       string
	Email        *string
	UserName     *string
	JobTitle     *string
	Messages     []types.Message
	UnlockedDocs []string
}

// ConversationStore persists visitor conversations keyed by chat ID.
type ConversationStore interface {
	// Upsert inserts or updates the conversation for u.ChatID and returns
	// the stored row. Returns ErrMissingChatID when u.ChatID is empty.
	Upsert(ctx context.Context, u ConversationUpsert) (Conversation, error)

	// Get returns the conversation for chatID, or ErrNotFound.
	Get(ctx context.Context, chatID string) (Conversation, error)
}

// Contact is one captured email with the conversation snapshot taken at
// capture time.
type Contact struct {
	ID           int64           `json:"id"`
	ChatID       string          `json:"chatId,omitempty"`
	Email        string          `json:"email"`
	ChatHistory  []types.Message `json:"chatHistory,omitempty"`
	UnlockedDocs []string        `json:"unlockedDocs,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ContactStore persists captured contacts. Records are append-only: a
// visitor submitting twice produces two rows.
type ContactStore interface {
	// Add appends c and returns it with ID and CreatedAt filled in.
	// Returns ErrInvalidEmail unless c.Email contains "@".
	Add(ctx context.Context, c Contact) (Contact, error)
}
