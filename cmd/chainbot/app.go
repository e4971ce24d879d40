package main

import (
	"context"
	"errors"
	"time"

	"github.com/m3rciful/chainbot/core/bootstrap"
	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/chain/middleware"
	corecmd "github.com/m3rciful/chainbot/core/cmd"
	coreconfig "github.com/m3rciful/chainbot/core/config"
	coredatabase "github.com/m3rciful/chainbot/core/database"
	coretelegram "github.com/m3rciful/chainbot/core/telegram"
	"github.com/m3rciful/chainbot/core/telegram/sender"
	"github.com/m3rciful/chainbot/internal/demo"

	tele "gopkg.in/telebot.v4"
)

// AppConfig is the chainbot configuration file layout.
type AppConfig struct {
	coreconfig.Config `yaml:",inline"`
	Database          coredatabase.Config `yaml:"database"`
}

// CoreConfig implements corecmd.ConfigCarrier.
func (c *AppConfig) CoreConfig() *coreconfig.Config { return &c.Config }

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	var cfg AppConfig
	if err := coreconfig.LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if cfg.UsesSQL() {
		if err := cfg.Database.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

type app struct {
	infra      *bootstrap.Result
	bot        *tele.Bot
	outbox     *sender.Outbox
	registry   *chain.Registry
	dispatcher *chain.Dispatcher
}

func newApp(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg := carrier.(*AppConfig)
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: &cfg.Config, Database: cfg.Database})
	if err != nil {
		return nil, err
	}

	bot, err := coretelegram.NewBot(ctx, &cfg.Config)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	outbox := sender.New(sender.Options{MaxRetries: 3})
	msgr := coretelegram.NewMessenger(bot, outbox)

	reg := chain.NewRegistry()
	if err := demo.Register(reg); err != nil {
		outbox.Close()
		_ = infra.Close()
		return nil, err
	}
	reg.LogSummary(ctx)
	events := chain.NewEvents()
	demo.Events(events, msgr)

	d, err := chain.NewDispatcher(chain.Options{
		Registry:          reg,
		States:            infra.States,
		Codec:             callback.NewCodec(infra.Contents),
		Locker:            infra.Locker,
		Events:            events,
		ErrorHandler:      &chain.ReplyErrorHandler{Messenger: msgr},
		Messenger:         msgr,
		History:           infra.History,
		Timeout:           time.Duration(cfg.Chain.DispatchTimeoutMS) * time.Millisecond,
		ClearContentOnEnd: cfg.Chain.ClearContentOnEnd,
		Middlewares: []chain.Middleware{
			middleware.Recover,
			middleware.Receipt,
			middleware.RateLimit(middleware.RateLimitOptionsFrom(cfg.RateLimit)),
			middleware.AdminOnly(reg, middleware.AdminOptions{AdminID: cfg.Telegram.AdminID}),
		},
	})
	if err != nil {
		outbox.Close()
		_ = infra.Close()
		return nil, err
	}
	return &app{infra: infra, bot: bot, outbox: outbox, registry: reg, dispatcher: d}, nil
}

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	if a.dispatcher == nil {
		return coretelegram.RunOptions{}, errors.New("chainbot: dispatcher not built")
	}
	return coretelegram.RunOptions{
		Bot:        a.bot,
		Dispatcher: a.dispatcher,
		Registry:   a.registry,
		Outbox:     a.outbox,
	}, nil
}

func (a *app) Close() error {
	a.outbox.Close()
	return a.infra.Close()
}
