package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/netutil"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = time.Second
)

// IsTransient reports whether a storage error is likely to succeed on retry:
// connection exceptions and serialization failures on Postgres, busy or locked
// databases on SQLite, broken pooled connections, and network timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40":
			return true
		}
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return netutil.ShouldRetry(err)
}

// Retry runs fn up to attempts times while it fails with a transient error.
// attempts below one runs fn once.
func Retry(ctx context.Context, attempts int, op string, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil || !IsTransient(err) || attempt == attempts {
			return err
		}
		logger.DB.Warn("transient storage error",
			slog.String("event", "db.retry"),
			slog.String("status", "retry"),
			slog.String("op", op),
			slog.Int("attempts", attempt),
			slog.String("err", err.Error()),
		)
		if sleepErr := netutil.Sleep(ctx, netutil.Backoff(attempt, retryBaseDelay, retryMaxDelay)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return err
}
