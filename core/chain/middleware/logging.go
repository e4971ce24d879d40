package middleware

import (
	"context"
	"log/slog"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/logger"
)

// Receipt logs one sampled debug line per received update.
func Receipt(next chain.HandlerFunc) chain.HandlerFunc {
	return func(ctx context.Context, upd *chain.Update) error {
		if logger.ShouldSampleDebug() {
			logReceipt(ctx, upd)
		}
		return next(ctx, upd)
	}
}

func logReceipt(ctx context.Context, upd *chain.Update) {
	chatID := upd.Chat()
	var userID int64
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Int("update_id", upd.ID),
		slog.String("kind", upd.Kind.String()),
	}
	if user := upd.Sender(); user != nil {
		userID = user.ID
		attrs = append(attrs, slog.Int64("user_id", user.ID))
		if user.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
		}
		if user.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", user.LanguageCode))
		}
	}
	if chatID != 0 {
		attrs = append(attrs, slog.Int64("chat_id", chatID))
	}
	attrs = append(attrs, slog.String("rid", logger.BuildRID(upd.ID, chatID, userID)))

	switch {
	case upd.Callback != nil:
		if tok, err := callback.Decode(upd.Callback.Data); err == nil {
			attrs = append(attrs, slog.String("cb_name", logger.SanitizeLimit(tok.Name, 64)))
			if tok.Reference {
				attrs = append(attrs, slog.String("cb_mode", "reference"))
			} else if tok.Value != "" {
				attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(tok.Value, 256)))
			}
		}
	case upd.Message != nil:
		attrs = append(attrs, slog.String("message_type", string(upd.Message.Type)))
		if upd.Message.Text != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(upd.Message.Text, 256)))
		}
	}
	logger.LogEvent(ctx, logger.Chain, slog.LevelDebug, "update.received", attrs...)
}
