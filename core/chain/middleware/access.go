package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/logger"
)

// AdminOptions defines how admin-only commands are enforced.
type AdminOptions struct {
	AdminID  int64
	OnReject chain.HandlerFunc
}

// AdminOnly drops commands registered with AdminOnly unless they come from
// opts.AdminID. With no admin configured every such command is rejected.
func AdminOnly(reg *chain.Registry, opts AdminOptions) chain.Middleware {
	return func(next chain.HandlerFunc) chain.HandlerFunc {
		return func(ctx context.Context, upd *chain.Update) error {
			if upd.Kind != chain.UpdateMessage || upd.Message == nil {
				return next(ctx, upd)
			}
			name, _, ok := chain.CommandName(upd.Message.Text)
			if !ok {
				return next(ctx, upd)
			}
			r, err := reg.Resolve(chain.KindCommand, name, chain.MessageText)
			if err != nil || !r.AdminOnly {
				return next(ctx, upd)
			}
			user := upd.Sender()
			if user != nil && opts.AdminID != 0 && user.ID == opts.AdminID {
				return next(ctx, upd)
			}
			var userID int64
			if user != nil {
				userID = user.ID
			}
			logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "chain.access_denied",
				slog.String("status", "rejected"),
				slog.String("handler", r.Name),
				slog.Int64("chat_id", upd.Chat()),
				slog.Int64("user_id", userID),
			)
			if opts.OnReject != nil {
				return opts.OnReject(ctx, upd)
			}
			return nil
		}
	}
}
