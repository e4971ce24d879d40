package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Bot        *tele.Bot
	Dispatcher *chain.Dispatcher
	// Registry, when set, is published as the bot command menu.
	Registry *chain.Registry
	// Outbox is closed after the last update was dispatched.
	Outbox *sender.Outbox
	Intake IntakeOptions

	OnStart func(ctx context.Context) error
	OnStop  func(ctx context.Context) error
}

// RunTelegram polls updates into the dispatcher until ctx is done, then
// drains in-flight updates and queued replies.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Bot == nil || opts.Dispatcher == nil {
		return fmt.Errorf("telegram: bot and dispatcher are required")
	}
	intakeCtx, cancelIntake := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelIntake()

	intake, err := NewIntake(intakeCtx, opts.Dispatcher.Dispatch, opts.Intake)
	if err != nil {
		return fmt.Errorf("telegram: intake init failed: %w", err)
	}
	bot := opts.Bot
	bot.Poller = intake.Wrap(bot.Poller)

	if opts.Registry != nil {
		PublishCommands(ctx, bot, opts.Registry)
	}
	if opts.OnStart != nil {
		if err := opts.OnStart(ctx); err != nil {
			_ = intake.Close()
			return err
		}
	}

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		bot.Stop()
		<-runDone
		runErr = ctx.Err()
	case <-runDone:
	}

	start := time.Now()
	pending := intake.Pending()
	closeErr := intake.Close()
	if opts.Outbox != nil {
		opts.Outbox.Close()
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "drain",
		slog.String("status", "ok"),
		slog.Int("pending", pending),
		slog.Duration("duration", logger.Took(start)),
	)

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx))
	}
	if stopErr != nil {
		return stopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}
