// Package mock provides in-memory test doubles for the store interfaces.
//
// ConversationStore and ContactStore mirror the PostgreSQL semantics closely
// enough for handler and controller tests: scalar coalescing on upsert,
// wholesale list replacement, and append-only contacts.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jjrasche/voice-chat-app/internal/store"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.ConversationStore = (*ConversationStore)(nil)
	_ store.ContactStore      = (*ContactStore)(nil)
)

// ConversationStore is an in-memory implementation of
// [store.ConversationStore]. Set Err to inject a failure on every call.
type ConversationStore struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every method.
	Err error

	// Upserts records every Upsert call in order.
	Upserts []store.ConversationUpsert

	rows map[string]store.Conversation
}

// Upsert implements [store.ConversationStore].
func (s *ConversationStore) Upsert(ctx context.Context, u store.ConversationUpsert) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Upserts = append(s.Upserts, u)
	if s.Err != nil {
		return store.Conversation{}, s.Err
	}
	if u.ChatID == "" {
		return store.Conversation{}, store.ErrMissingChatID
	}
	if s.rows == nil {
		s.rows = make(map[string]store.Conversation)
	}

	now := time.Now().UTC()
	conv, ok := s.rows[u.ChatID]
	if !ok {
		conv = store.Conversation{ChatID: u.ChatID, CreatedAt: now}
	}
	if u.Email != nil {
		conv.Email = *u.Email
	}
	if u.UserName != nil {
		conv.UserName = *u.UserName
	}
	if u.JobTitle != nil {
		conv.JobTitle = *u.JobTitle
	}
	conv.Messages = u.Messages
	if conv.Messages == nil {
		conv.Messages = []types.Message{}
	}
	conv.UnlockedDocs = u.UnlockedDocs
	if conv.UnlockedDocs == nil {
		conv.UnlockedDocs = []string{}
	}
	conv.UpdatedAt = now

	s.rows[u.ChatID] = conv
	return conv, nil
}

// Get implements [store.ConversationStore].
func (s *ConversationStore) Get(ctx context.Context, chatID string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return store.Conversation{}, s.Err
	}
	conv, ok := s.rows[chatID]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

// ContactStore is an in-memory implementation of [store.ContactStore].
// Set Err to inject a failure on every call.
type ContactStore struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Add.
	Err error

	// Contacts holds every stored contact in insertion order.
	Contacts []store.Contact

	nextID int64
}

// Add implements [store.ContactStore].
func (s *ContactStore) Add(ctx context.Context, c store.Contact) (store.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return store.Contact{}, s.Err
	}
	if !strings.Contains(c.Email, "@") {
		return store.Contact{}, store.ErrInvalidEmail
	}

	s.nextID++
	c.ID = s.nextID
	c.CreatedAt = time.Now().UTC()
	s.Contacts = append(s.Contacts, c)
	return c, nil
}
