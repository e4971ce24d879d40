package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/config"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
// Exclude holds config.Update* kinds that bypass the limit.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited chain.HandlerFunc
}

// RateLimitOptionsFrom builds options from the rate_limit config section.
func RateLimitOptionsFrom(cfg config.RateLimitConfig) RateLimitOptions {
	opts := RateLimitOptions{
		Interval: time.Duration(cfg.IntervalMS) * time.Millisecond,
		Exclude:  make(map[string]struct{}, len(cfg.ExcludeUpdates)),
	}
	for _, kind := range cfg.ExcludeUpdates {
		opts.Exclude[kind] = struct{}{}
	}
	return opts
}

// RateLimit enforces a minimum interval between updates from the same user.
// Limited updates are dropped before they reach the dispatcher.
func RateLimit(opts RateLimitOptions) chain.Middleware {
	var (
		lastSeen   = make(map[int64]time.Time)
		lastSeenMu sync.Mutex
	)
	return func(next chain.HandlerFunc) chain.HandlerFunc {
		return func(ctx context.Context, upd *chain.Update) error {
			user := upd.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(ctx, upd)
			}
			if _, skip := opts.Exclude[limitKind(upd.Kind)]; skip {
				return next(ctx, upd)
			}

			now := time.Now()
			lastSeenMu.Lock()
			if last, ok := lastSeen[user.ID]; ok && now.Sub(last) < opts.Interval {
				lastSeenMu.Unlock()
				metrics.TelegramRateLimited.Inc()
				logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "chain.rate_limit",
					slog.String("status", "rate_limited"),
					slog.Int64("chat_id", upd.Chat()),
					slog.Int64("user_id", user.ID),
				)
				if opts.OnLimited != nil {
					_ = opts.OnLimited(ctx, upd)
				}
				return nil
			}
			lastSeen[user.ID] = now
			for id, ts := range lastSeen {
				if now.Sub(ts) > opts.Interval {
					delete(lastSeen, id)
				}
			}
			lastSeenMu.Unlock()
			return next(ctx, upd)
		}
	}
}

func limitKind(kind chain.UpdateKind) string {
	switch kind {
	case chain.UpdateCallbackQuery:
		return config.UpdateCallback
	case chain.UpdateMessage:
		return config.UpdateMessage
	case chain.UpdateInlineQuery:
		return config.UpdateInlineQuery
	default:
		return "other"
	}
}
