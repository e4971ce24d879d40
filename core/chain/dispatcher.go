package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/chainbot/core/chain/callback"
	"github.com/m3rciful/chainbot/core/chain/history"
	"github.com/m3rciful/chainbot/core/chain/lock"
	"github.com/m3rciful/chainbot/core/chain/state"
	"github.com/m3rciful/chainbot/core/logger"
	"github.com/m3rciful/chainbot/core/metrics"
)

// Route is the classification of an inbound update.
type Route int

const (
	RoutePassive Route = iota
	RouteCommand
	RouteStep
	RouteCallback
)

func (r Route) String() string {
	switch r {
	case RouteCommand:
		return "command"
	case RouteStep:
		return "step"
	case RouteCallback:
		return "callback"
	default:
		return "passive"
	}
}

// HandlerFunc processes one update. Dispatcher.Dispatch is the innermost one.
type HandlerFunc func(ctx context.Context, upd *Update) error

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Options wires the dispatcher's collaborators. Registry and States are required.
type Options struct {
	Registry *Registry
	States   state.Store
	Codec    *callback.Codec
	// Locker defaults to an in-process keyed mutex.
	Locker lock.Locker
	Events *Events
	// ErrorHandler defaults to LogErrorHandler.
	ErrorHandler ErrorHandler
	Messenger    Messenger
	// History, when set, records inbound messages before routing.
	History history.Log
	// Timeout bounds a single action; zero disables it. A timed-out action is
	// not stopped: it keeps running after the identity lock is released and
	// may overlap the next update of the same identity. Its context is
	// cancelled, so Argument.Reply, Answer and CallbackButton refuse to act;
	// other side effects should check ctx as well.
	Timeout time.Duration
	// ClearContentOnEnd drops transferred content when a chain ends.
	ClearContentOnEnd bool
	Middlewares       []Middleware
}

// Dispatcher classifies updates, resolves and invokes handlers, and persists
// the resulting dialog state.
type Dispatcher struct {
	registry          *Registry
	states            state.Store
	codec             *callback.Codec
	locker            lock.Locker
	events            *Events
	errHandler        ErrorHandler
	messenger         Messenger
	history           history.Log
	timeout           time.Duration
	clearContentOnEnd bool
	handler           HandlerFunc
}

// NewDispatcher validates opts and seals the registry.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Registry == nil {
		return nil, errors.New("chain: registry is required")
	}
	if opts.States == nil {
		return nil, errors.New("chain: state store is required")
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.ErrorHandler == nil {
		opts.ErrorHandler = LogErrorHandler
	}
	if opts.Codec == nil {
		opts.Codec = callback.NewCodec(nil)
	}
	opts.Registry.Seal()

	d := &Dispatcher{
		registry:          opts.Registry,
		states:            opts.States,
		codec:             opts.Codec,
		locker:            opts.Locker,
		events:            opts.Events,
		errHandler:        opts.ErrorHandler,
		messenger:         opts.Messenger,
		history:           opts.History,
		timeout:           opts.Timeout,
		clearContentOnEnd: opts.ClearContentOnEnd,
	}
	h := HandlerFunc(d.dispatch)
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		h = opts.Middlewares[i](h)
	}
	d.handler = h
	return d, nil
}

// Dispatch processes one update. Failures are reported to the error handler
// before being returned; callers running a loop may ignore the result.
func (d *Dispatcher) Dispatch(ctx context.Context, upd *Update) error {
	if upd == nil {
		return nil
	}
	return d.handler(ctx, upd)
}

// dispatchResult collects what the summary line reports.
type dispatchResult struct {
	route    Route
	handler  string
	step     string
	nextStep string
	msgType  MessageType
	cbName   string
	cbMode   string
	outcome  string
}

func (d *Dispatcher) dispatch(ctx context.Context, upd *Update) error {
	start := time.Now()
	chatID := upd.Chat()
	var userID int64
	if s := upd.Sender(); s != nil {
		userID = s.ID
	}
	ctx = logger.WithRID(ctx, logger.BuildRID(upd.ID, chatID, userID))
	ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)

	res := dispatchResult{outcome: "ok"}
	err := d.route(ctx, upd, chatID, userID, &res)
	if err != nil {
		if res.outcome == "ok" {
			res.outcome = "fail"
		}
		d.errHandler.HandleError(logger.WithHandler(ctx, res.handler), chatID, upd, err)
	}
	d.logHandled(ctx, upd, res, start, err)
	return err
}

func (d *Dispatcher) route(ctx context.Context, upd *Update, chatID, userID int64, res *dispatchResult) error {
	switch upd.Kind {
	case UpdateMessage, UpdateCallbackQuery:
	default:
		res.outcome = d.passive(ctx, upd)
		return nil
	}
	if (upd.Kind == UpdateMessage && upd.Message == nil) || (upd.Kind == UpdateCallbackQuery && upd.Callback == nil) {
		res.outcome = d.passive(ctx, upd)
		return nil
	}
	if upd.Sender() == nil {
		res.outcome = "dropped"
		logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "update.dropped",
			slog.String("status", "skip"),
			slog.String("kind", upd.Kind.String()),
			slog.String("cause", "missing sender"),
		)
		return nil
	}

	if upd.Message != nil {
		d.record(ctx, upd.Message, userID)
	}

	unlock, err := d.locker.Lock(ctx, lock.Key(chatID, userID))
	if err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	defer unlock()

	prior, err := d.states.Get(ctx, chatID, userID)
	if err != nil {
		return fmt.Errorf("load dialog state: %w", err)
	}

	res.route = classify(upd, prior)
	arg := &Argument{
		ChatID:    chatID,
		UserID:    userID,
		Update:    upd,
		Route:     res.route,
		messenger: d.messenger,
		codec:     d.codec,
	}

	var reg *Registration
	switch res.route {
	case RouteCommand:
		name, args, _ := CommandName(upd.Message.Text)
		res.handler = name
		arg.CommandArgs = args
		reg, err = d.registry.Resolve(KindCommand, name, "")
	case RouteStep:
		res.step = *prior.Step
		res.handler = res.step
		res.msgType = upd.Message.Type
		if upd.Message.Type == MessageUnknown || upd.Message.Type == "" {
			return ErrUnsupportedMessage
		}
		arg.Content = prior.Content
		reg, err = d.registry.Resolve(KindStep, res.step, upd.Message.Type)
	case RouteCallback:
		reg, err = d.resolveCallback(ctx, upd, userID, arg, res)
	case RoutePassive:
		res.outcome = d.passive(ctx, upd)
		return nil
	default:
		return fmt.Errorf("chain: unhandled route %d", res.route)
	}
	if err != nil {
		return err
	}

	if reg.Next != nil {
		arg.NextStep = reg.Next
	}
	ctx = logger.WithHandler(ctx, res.handler)
	if err := d.invoke(ctx, reg, arg); err != nil {
		if errors.Is(err, ErrHandlerTimeout) {
			res.outcome = "timeout"
		}
		return err
	}
	res.nextStep = deref(arg.NextStep)

	if upd.Callback != nil && !arg.answered && d.messenger != nil {
		if err := d.messenger.AnswerCallback(ctx, upd.Callback.ID, ""); err != nil {
			logger.LogEvent(ctx, logger.Chain, slog.LevelDebug, "callback.answer",
				slog.String("status", "fail"),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			)
		}
	}
	return d.persist(ctx, chatID, userID, prior, arg)
}

// classify assigns exactly one route. Commands win over an active step.
func classify(upd *Update, prior *state.DialogState) Route {
	switch upd.Kind {
	case UpdateCallbackQuery:
		return RouteCallback
	case UpdateMessage:
		if _, _, ok := CommandName(upd.Message.Text); ok {
			return RouteCommand
		}
		if prior.Active() {
			return RouteStep
		}
		return RoutePassive
	case UpdateOther, UpdateEditedMessage, UpdateChannelPost, UpdateEditedChannelPost,
		UpdateInlineQuery, UpdateChosenInlineResult, UpdateShippingQuery, UpdatePreCheckoutQuery,
		UpdatePoll, UpdatePollAnswer, UpdateMyChatMember, UpdateChatMember, UpdateChatJoinRequest:
		return RoutePassive
	default:
		return RoutePassive
	}
}

func (d *Dispatcher) resolveCallback(ctx context.Context, upd *Update, userID int64, arg *Argument, res *dispatchResult) (*Registration, error) {
	tok, err := d.codec.Decode(upd.Callback.Data)
	if err != nil {
		return nil, err
	}
	res.handler = tok.Name
	res.cbName = tok.Name
	res.cbMode = "inline"
	if tok.Reference {
		res.cbMode = "reference"
	}
	reg, err := d.registry.Resolve(KindCallback, tok.Name, "")
	if err != nil {
		return nil, err
	}
	payload, err := d.codec.Resolve(ctx, userID, tok)
	if err != nil {
		if errors.Is(err, ErrExpiredCallback) {
			res.outcome = "expired"
		}
		return nil, err
	}
	arg.Content = &payload
	return reg, nil
}

// invoke runs the action with panic recovery and, when configured, a timeout.
// On timeout the action keeps running detached; its result is ignored.
func (d *Dispatcher) invoke(ctx context.Context, reg *Registration, arg *Argument) error {
	if d.timeout <= 0 {
		return safeCall(ctx, reg.Action, arg)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- safeCall(ctx, reg.Action, arg) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s %q after %s", ErrHandlerTimeout, reg.Kind, reg.Name, d.timeout)
	}
}

func safeCall(ctx context.Context, action Action, arg *Argument) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return action(ctx, arg)
}

// persist writes the transition once the action returned. An identity that
// never had a row gets none unless the action produced a step or content.
func (d *Dispatcher) persist(ctx context.Context, chatID, userID int64, prior *state.DialogState, arg *Argument) error {
	step, content := arg.NextStep, arg.NextContent
	if step == nil && d.clearContentOnEnd {
		content = nil
	}
	if prior == nil && step == nil && content == nil {
		return nil
	}
	if err := d.states.Save(ctx, chatID, userID, step, content); err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return nil
}

func (d *Dispatcher) passive(ctx context.Context, upd *Update) string {
	if d.events.Dispatch(ctx, upd) == 0 {
		return "ignored"
	}
	return "passive"
}

func (d *Dispatcher) record(ctx context.Context, msg *Message, userID int64) {
	if d.history == nil {
		return
	}
	e := history.Entry{ChatID: msg.ChatID, UserID: userID, MessageID: msg.ID}
	if msg.Text != "" {
		text := msg.Text
		e.Text = &text
	}
	if err := d.history.Record(ctx, e); err != nil {
		logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "history.record",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		)
	}
}

func (d *Dispatcher) logHandled(ctx context.Context, upd *Update, res dispatchResult, start time.Time, err error) {
	took := logger.Took(start)
	metrics.ObserveDispatch(upd.Kind.String(), res.route.String(), res.outcome, took)

	status := "ok"
	level := slog.LevelInfo
	switch {
	case err != nil:
		status = "fail"
	case res.outcome == "dropped" || res.outcome == "ignored":
		status = "skip"
		level = slog.LevelDebug
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("route", res.route.String()),
		slog.String("handler", res.handler),
		slog.String("step", res.step),
		slog.String("next_step", res.nextStep),
		slog.String("message_type", string(res.msgType)),
		slog.String("cb_name", res.cbName),
		slog.String("cb_mode", res.cbMode),
		slog.String("kind", upd.Kind.String()),
		slog.String("outcome", res.outcome),
		slog.Duration("duration", took),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.Chain, level, "handler.handled", attrs...)
}
