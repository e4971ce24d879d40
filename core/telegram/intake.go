package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/chain/lock"
	"github.com/m3rciful/chainbot/core/chain/serial"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"

	tele "gopkg.in/telebot.v4"
)

const defaultDedupWindow = 10 * time.Minute

// Intake receives raw Telegram updates from the poller, drops redelivered
// ones and hands the rest to the dispatcher. Updates of one (chat, user) run
// in arrival order; different identities run in parallel.
type Intake struct {
	ctx    context.Context
	handle chain.HandlerFunc
	exec   *serial.Executor
	seen   *bigcache.BigCache
}

// IntakeOptions configures NewIntake.
type IntakeOptions struct {
	// Workers bounds identities processed at the same time.
	Workers int
	// DedupWindow is how long update ids are remembered.
	DedupWindow time.Duration
}

// NewIntake builds an intake feeding handle. ctx is the context every
// dispatch derives from and also stops the dedup cache janitor.
func NewIntake(ctx context.Context, handle chain.HandlerFunc, opts IntakeOptions) (*Intake, error) {
	window := opts.DedupWindow
	if window <= 0 {
		window = defaultDedupWindow
	}
	cfg := bigcache.DefaultConfig(window)
	cfg.Shards = 16
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 1
	cfg.HardMaxCacheSize = 8
	seen, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Intake{
		ctx:    ctx,
		handle: handle,
		exec:   serial.New(opts.Workers),
		seen:   seen,
	}, nil
}

// Wrap returns a poller that routes every update through the intake instead
// of telebot's own handler table.
func (in *Intake) Wrap(p tele.Poller) tele.Poller {
	return tele.NewMiddlewarePoller(p, in.Filter)
}

// Filter enqueues u and always reports false so telebot does not process it.
func (in *Intake) Filter(u *tele.Update) bool {
	if in.duplicate(u.ID) {
		metrics.TelegramUpdatesDuplicate.Inc()
		logger.LogEvent(in.ctx, logger.TG, slog.LevelDebug, "update.duplicate",
			slog.String("status", "skip"),
			slog.Int("update_id", u.ID),
		)
		return false
	}
	upd := ConvertUpdate(u)
	var userID int64
	if s := upd.Sender(); s != nil {
		userID = s.ID
	}
	key := lock.Key(upd.Chat(), userID)
	err := in.exec.Submit(key, func() {
		_ = in.handle(in.ctx, upd)
	})
	if err != nil {
		logger.LogEvent(in.ctx, logger.TG, slog.LevelWarn, "update.rejected",
			slog.String("status", "skip"),
			slog.Int("update_id", u.ID),
			slog.String("err", err.Error()),
		)
	}
	return false
}

func (in *Intake) duplicate(id int) bool {
	if id == 0 {
		return false
	}
	key := strconv.Itoa(id)
	if _, err := in.seen.Get(key); err == nil {
		return true
	} else if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return false
	}
	_ = in.seen.Set(key, []byte{1})
	return false
}

// Pending reports queued updates not yet dispatched.
func (in *Intake) Pending() int {
	return in.exec.Pending()
}

// Close waits for queued updates to finish and releases the dedup cache.
func (in *Intake) Close() error {
	in.exec.Close()
	return in.seen.Close()
}
