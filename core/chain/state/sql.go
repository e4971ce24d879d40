package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/chainbot/core/database"
	"github.com/m3rciful/chainbot/core/metrics"
)

const (
	upsertStateQuery = `INSERT INTO chains (chat_id, user_id, step, content, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (chat_id, user_id) DO UPDATE SET step = excluded.step, content = excluded.content, updated_at = excluded.updated_at`
	selectStateQuery = `SELECT chat_id, user_id, step, content, updated_at FROM chains WHERE chat_id = ? AND user_id = ?`
)

// SQLStore keeps dialog state in the chains table, one row per (chat, user).
type SQLStore struct {
	db      *sqlx.DB
	retries int
}

// NewSQLStore returns a Store over db retrying transient failures up to retries extra times.
func NewSQLStore(db *sqlx.DB, retries int) *SQLStore {
	return &SQLStore{db: db, retries: retries}
}

func (s *SQLStore) Get(ctx context.Context, chatID, userID int64) (*DialogState, error) {
	var row DialogState
	err := database.Retry(ctx, s.retries+1, "state.get", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &row, s.db.Rebind(selectStateQuery), chatID, userID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	return &row, nil
}

// Save upserts in a single statement so concurrent writers never observe a
// half-written row.
func (s *SQLStore) Save(ctx context.Context, chatID, userID int64, step, content *string) error {
	err := database.Retry(ctx, s.retries+1, "state.save", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, s.db.Rebind(upsertStateQuery), chatID, userID, step, content, time.Now().UTC())
		return err
	})
	if err != nil {
		metrics.StateWrites.WithLabelValues("sql", "error").Inc()
		return fmt.Errorf("upsert state: %w", err)
	}
	metrics.StateWrites.WithLabelValues("sql", "ok").Inc()
	return nil
}
