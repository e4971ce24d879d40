package telegram

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Messenger implements chain.Messenger on top of a telebot API client.
// Calls go through the outbox when one is set and run inline otherwise.
type Messenger struct {
	api    tele.API
	outbox *sender.Outbox
}

// NewMessenger returns a messenger for api. outbox may be nil.
func NewMessenger(api tele.API, outbox *sender.Outbox) *Messenger {
	return &Messenger{api: api, outbox: outbox}
}

// Send delivers text with an optional inline keyboard to chatID.
func (m *Messenger) Send(ctx context.Context, chatID int64, text string, keyboard [][]chain.Button) error {
	var opts []any
	if markup := Markup(keyboard); markup != nil {
		opts = append(opts, markup)
	}
	return m.run(ctx, sender.Call{
		Method: "sendMessage",
		ChatID: chatID,
		Run: func(context.Context) error {
			_, err := m.api.Send(tele.ChatID(chatID), text, opts...)
			return err
		},
	})
}

// AnswerCallback acknowledges a callback query, optionally with a notification.
func (m *Messenger) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return m.run(ctx, sender.Call{
		Method: "answerCallbackQuery",
		Run: func(context.Context) error {
			return m.api.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
		},
	})
}

func (m *Messenger) run(ctx context.Context, call sender.Call) error {
	if m.outbox == nil {
		return call.Run(ctx)
	}
	err := m.outbox.Enqueue(ctx, call)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "queue.fallback",
			slog.String("status", "retry"),
			slog.String("method", call.Method),
			slog.String("err", err.Error()),
		)
		return call.Run(ctx)
	}
	return err
}

// Markup converts keyboard rows into an inline reply markup. Empty rows are
// skipped; nil is returned when nothing is left.
func Markup(rows [][]chain.Button) *tele.ReplyMarkup {
	var inline [][]tele.InlineButton
	for _, row := range rows {
		var out []tele.InlineButton
		for _, b := range row {
			btn := tele.InlineButton{Text: b.Text}
			if b.URL != "" {
				btn.URL = b.URL
			} else {
				btn.Data = b.Data
			}
			out = append(out, btn)
		}
		if len(out) > 0 {
			inline = append(inline, out)
		}
	}
	if len(inline) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}
