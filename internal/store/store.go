// Package store is the Postgres prediction log. Conversation state itself
// stays in memory; this is an append-only audit of what was scored.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS prediction_events (
	event_id         UUID PRIMARY KEY,
	conversation_id  TEXT NOT NULL,
	turn_index       INTEGER NOT NULL,
	probability      DOUBLE PRECISION NOT NULL,
	status           TEXT NOT NULL,
	suggested_action TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL,
	momentum         DOUBLE PRECISION,
	trend            TEXT,
	value_estimate   DOUBLE PRECISION,
	policy_version   TEXT NOT NULL,
	source           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS prediction_events_conversation_idx
	ON prediction_events (conversation_id, created_at);
`

// Migrate creates the prediction log table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
