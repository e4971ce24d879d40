package telegram

import (
	"context"
	"log/slog"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// MenuCommands lists the registered commands that carry a description.
// Commands without one stay callable but hidden from the menu.
func MenuCommands(reg *chain.Registry) []tele.Command {
	var list []tele.Command
	for _, c := range reg.Commands() {
		if c.Description == "" || c.AdminOnly {
			continue
		}
		list = append(list, tele.Command{Text: c.Name[len(chain.CommandPrefix):], Description: c.Description})
	}
	return list
}

// PublishCommands sets the bot command menu shown by Telegram clients.
func PublishCommands(ctx context.Context, api tele.API, reg *chain.Registry) {
	commands := MenuCommands(reg)
	if len(commands) == 0 {
		return
	}
	if err := api.SetCommands(commands); err != nil {
		logger.LogEvent(ctx, logger.TWire, slog.LevelError, "wire.commands",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Text
	}
	summary, truncated := logger.SummarizeStrings(names, 10)
	logger.LogEvent(ctx, logger.TWire, slog.LevelInfo, "wire.commands",
		slog.String("status", "ok"),
		slog.Int("count", len(commands)),
		slog.String("commands", summary),
		slog.Bool("truncated", truncated),
	)
}
