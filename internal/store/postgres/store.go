// Package postgres provides the PostgreSQL-backed implementations of
// [store.ConversationStore] and [store.ContactStore].
//
// Both share a single [pgxpool.Pool]. [Migrate] installs the schema and is
// safe to run on every application start.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_, _ = st.Conversations().Upsert(ctx, upsert)
//	_, _ = st.Contacts().Add(ctx, contact)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jjrasche/voice-chat-app/internal/store"
)

// Compile-time interface checks.
var (
	_ store.ConversationStore = (*ConversationStoreImpl)(nil)
	_ store.ContactStore      = (*ContactStoreImpl)(nil)
)

// Store holds the shared connection pool and exposes the two record stores
// via [Store.Conversations] and [Store.Contacts]. All operations are safe
// for concurrent use.
type Store struct {
	pool          *pgxpool.Pool
	conversations *ConversationStoreImpl
	contacts      *ContactStoreImpl
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// verifies connectivity, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:          pool,
		conversations: &ConversationStoreImpl{pool: pool},
		contacts:      &ContactStoreImpl{pool: pool},
	}, nil
}

// Conversations returns the [store.ConversationStore] implementation.
func (s *Store) Conversations() *ConversationStoreImpl { return s.conversations }

// Contacts returns the [store.ContactStore] implementation.
func (s *Store) Contacts() *ContactStoreImpl { return s.contacts }

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
