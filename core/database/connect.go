package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/netutil"
)

// Connect opens the database connection, waits until the server answers,
// configures the pool, and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	driver := cfg.DriverName()

	start := time.Now()
	sqlxDB, err := sqlx.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := waitReady(ctx, sqlxDB, readyTimeout(cfg)); err != nil {
		_ = sqlxDB.Close()
		logger.DB.Error("db connect failed",
			slog.String("event", "db.connect"),
			slog.String("driver", driver),
			slog.String("host", cfg.Host),
			slog.String("port", cfg.Port),
			slog.String("db", dbLabel(cfg)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	poolSize := cfg.MaxConnections
	if driver == DriverSQLite {
		// One writer at a time; a single connection also keeps ":memory:" shared.
		poolSize = 1
	}
	if poolSize > 0 {
		sqlxDB.SetMaxOpenConns(poolSize)
		sqlxDB.SetMaxIdleConns(poolSize)
	}
	logger.DB.Debug("db pool configured",
		slog.String("event", "db.pool"),
		slog.Int("pool_open", poolSize),
	)

	logger.DB.Info("db connected",
		slog.String("event", "db.connect"),
		slog.String("driver", driver),
		slog.String("host", cfg.Host),
		slog.String("port", cfg.Port),
		slog.String("db", dbLabel(cfg)),
		slog.Int("pool_open", poolSize),
		slog.Duration("duration", logger.Took(start)),
	)
	return sqlxDB, nil
}

func readyTimeout(cfg Config) time.Duration {
	if cfg.ReadyTimeoutSeconds > 0 {
		return time.Duration(cfg.ReadyTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// waitReady pings the database until it answers or the timeout is reached.
func waitReady(ctx context.Context, db *sqlx.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var lastErr error
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = db.PingContext(pingCtx)
		pingCancel()
		if lastErr == nil {
			return nil
		}
		if err := netutil.Sleep(ctx, netutil.Backoff(attempt, 250*time.Millisecond, 2*time.Second)); err != nil {
			return fmt.Errorf("timeout reached waiting for database: %w", lastErr)
		}
	}
}

func dbLabel(cfg Config) string {
	if cfg.DriverName() == DriverSQLite {
		return cfg.Path
	}
	return cfg.Name
}
