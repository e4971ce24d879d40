// Package dbtest provides migrated databases for store tests.
package dbtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/chainbot/core/database"
)

// SQLite returns a migrated SQLite database in a temporary directory.
func SQLite(t testing.TB) *sqlx.DB {
	t.Helper()
	return open(t, database.Config{Driver: database.DriverSQLite, Path: filepath.Join(t.TempDir(), "chainbot.db")})
}

// Postgres returns a migrated Postgres database from TEST_POSTGRES_DSN
// or skips the test when the variable is unset.
func Postgres(t testing.TB) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := sqlx.Open(database.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	for _, table := range []string{"chains", "callback_contents", "callback_content_sequences", "telegram_messages"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return db
}

func open(t testing.TB, cfg database.Config) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("connect %s: %v", cfg.DriverName(), err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("migrate %s: %v", cfg.DriverName(), err)
	}
	return db
}
