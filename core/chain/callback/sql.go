package callback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/chainbot/core/database"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"
)

const (
	lockUserQuery = `INSERT INTO callback_content_sequences (user_id, puts) VALUES (?, 1)
ON CONFLICT (user_id) DO UPDATE SET puts = callback_content_sequences.puts + 1`
	insertContentQuery = `INSERT INTO callback_contents (user_id, payload, created_at) VALUES (?, ?, ?) RETURNING ref`
	evictContentQuery  = `DELETE FROM callback_contents WHERE user_id = ? AND ref <= (
	SELECT ref FROM callback_contents WHERE user_id = ? ORDER BY ref DESC LIMIT 1 OFFSET ?)`
	selectContentQuery = `SELECT payload FROM callback_contents WHERE user_id = ? AND ref = ?`
)

// SQLStore keeps callback payloads in the callback_contents table, whose
// auto-increment key is the reference. Each put first bumps the user's row in
// callback_content_sequences; the row lock serializes puts of the same user so
// eviction sees every earlier entry.
type SQLStore struct {
	db         *sqlx.DB
	maxPerUser int
	retries    int
}

// NewSQLStore returns a store over db keeping at most maxPerUser payloads per
// user (negative disables the cap, zero is raised to one). Transient failures
// are retried up to retries extra times.
func NewSQLStore(db *sqlx.DB, maxPerUser, retries int) *SQLStore {
	return &SQLStore{db: db, maxPerUser: normalizeCap(maxPerUser), retries: retries}
}

func (s *SQLStore) Put(ctx context.Context, userID int64, payload string) (int64, error) {
	var ref int64
	var evicted int64
	err := database.Retry(ctx, s.retries+1, "callback.put", func(ctx context.Context) error {
		var err error
		ref, evicted, err = s.put(ctx, userID, payload)
		return err
	})
	if err != nil {
		return 0, err
	}
	if evicted > 0 {
		metrics.CallbackEvictions.Add(float64(evicted))
		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.Callback, slog.LevelDebug, "callback.evict",
				slog.Int64("user_id", userID),
				slog.Int64("ref", ref),
				slog.Int64("evicted", evicted),
			)
		}
	}
	return ref, nil
}

func (s *SQLStore) put(ctx context.Context, userID int64, payload string) (ref, evicted int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(lockUserQuery), userID); err != nil {
		return 0, 0, fmt.Errorf("lock user sequence: %w", err)
	}
	if err = tx.QueryRowxContext(ctx, tx.Rebind(insertContentQuery), userID, payload, time.Now().UTC()).Scan(&ref); err != nil {
		return 0, 0, fmt.Errorf("insert content: %w", err)
	}
	if s.maxPerUser >= 0 {
		res, execErr := tx.ExecContext(ctx, tx.Rebind(evictContentQuery), userID, userID, s.maxPerUser)
		if execErr != nil {
			err = fmt.Errorf("evict content: %w", execErr)
			return 0, 0, err
		}
		evicted, _ = res.RowsAffected()
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return ref, evicted, nil
}

// Get returns the payload only when ref belongs to userID.
func (s *SQLStore) Get(ctx context.Context, userID, ref int64) (string, bool, error) {
	var payload string
	err := database.Retry(ctx, s.retries+1, "callback.get", func(ctx context.Context) error {
		return s.db.GetContext(ctx, &payload, s.db.Rebind(selectContentQuery), userID, ref)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("select content: %w", err)
	}
	return payload, true, nil
}
