// Package bootstrap initializes logging and the storage the chain
// dispatcher runs on, selected by the chain configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/chain/history"
	"github.com/m3rciful/chainbot/core/chain/lock"
	"github.com/m3rciful/chainbot/core/chain/state"
	coreconfig "github.com/m3rciful/chainbot/core/config"
	coredatabase "github.com/m3rciful/chainbot/core/database"
	"github.com/m3rciful/chainbot/core/logger"
)

const memoryHistoryCapacity = 1000

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(*sqlx.DB) error
	// Redis overrides the client built from Config.Redis.
	Redis *redis.Client
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB    *sqlx.DB
	Redis *redis.Client

	States   state.Store
	Contents callback.Store
	Locker   lock.Locker
	History  history.Log
}

// Run initializes the logger, opens the configured backends and applies migrations.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{Redis: opts.Redis}
	if cfg.UsesSQL() {
		db, err := openSQL(ctx, opts)
		if err != nil {
			return nil, err
		}
		res.DB = db
	}
	if cfg.UsesRedis() && res.Redis == nil {
		cli, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			_ = res.Close()
			return nil, err
		}
		res.Redis = cli
	}

	ch := cfg.Chain
	switch ch.StateBackend {
	case coreconfig.BackendSQL:
		res.States = state.NewSQLStore(res.DB, ch.StorageRetries)
	case coreconfig.BackendRedis:
		res.States = state.NewRedisStore(res.Redis, time.Duration(cfg.Redis.StateTTLS)*time.Second)
	default:
		res.States = state.NewMemoryStore()
	}
	if ch.ContentBackend == coreconfig.BackendSQL {
		res.Contents = callback.NewSQLStore(res.DB, ch.MaxContentsPerUser(), ch.StorageRetries)
	} else {
		res.Contents = callback.NewMemoryStore(ch.MaxContentsPerUser())
	}
	if cfg.Redis.Distribute {
		res.Locker = lock.NewRedis(res.Redis, time.Duration(cfg.Redis.LockTTLMS)*time.Millisecond)
	} else {
		res.Locker = lock.NewLocal()
	}
	if ch.RecordMessages {
		if res.DB != nil {
			res.History = history.NewSQLLog(res.DB)
		} else {
			res.History = history.NewMemoryLog(memoryHistoryCapacity)
		}
	}

	logger.LogEvent(ctx, logger.L, slog.LevelInfo, "bootstrap",
		slog.String("status", "ok"),
		slog.String("state_backend", ch.StateBackend),
		slog.String("content_backend", ch.ContentBackend),
		slog.Int("max_contents_per_user", ch.MaxContentsPerUser()),
		slog.Bool("distributed_locks", cfg.Redis.Distribute),
		slog.Bool("record_messages", ch.RecordMessages),
	)
	return res, nil
}

func openSQL(ctx context.Context, opts Options) (*sqlx.DB, error) {
	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}
	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg coreconfig.RedisConfig) (*redis.Client, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pingCtx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("bootstrap: redis ping %s failed: %w", cfg.Addr, err)
	}
	logger.LogEvent(ctx, logger.L, slog.LevelInfo, "redis.connect",
		slog.String("status", "ok"),
		slog.String("host", cfg.Addr),
	)
	return cli, nil
}

// Close releases the database and Redis connections.
func (r *Result) Close() error {
	var errs []error
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}
