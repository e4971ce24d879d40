package chain

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/m3rciful/chainbot/core/logger"
)

// EventHandler observes a passive update.
type EventHandler func(ctx context.Context, upd *Update) error

// Events routes passive updates to per-kind hooks. Hook failures are logged
// and never reach the error handler or other hooks.
type Events struct {
	mu       sync.RWMutex
	handlers map[UpdateKind][]EventHandler
}

// NewEvents returns an empty event router.
func NewEvents() *Events {
	return &Events{handlers: make(map[UpdateKind][]EventHandler)}
}

// On adds h for updates of kind.
func (e *Events) On(kind UpdateKind, h EventHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.handlers[kind] = append(e.handlers[kind], h)
	e.mu.Unlock()
}

// OnMessage adds h for messages that are neither commands nor step replies.
func (e *Events) OnMessage(h EventHandler) { e.On(UpdateMessage, h) }

// OnEditedMessage adds h for edited messages.
func (e *Events) OnEditedMessage(h EventHandler) { e.On(UpdateEditedMessage, h) }

// OnChannelPost adds h for channel posts.
func (e *Events) OnChannelPost(h EventHandler) { e.On(UpdateChannelPost, h) }

// OnEditedChannelPost adds h for edited channel posts.
func (e *Events) OnEditedChannelPost(h EventHandler) { e.On(UpdateEditedChannelPost, h) }

// OnInlineQuery adds h for inline queries.
func (e *Events) OnInlineQuery(h EventHandler) { e.On(UpdateInlineQuery, h) }

// OnChosenInlineResult adds h for chosen inline results.
func (e *Events) OnChosenInlineResult(h EventHandler) { e.On(UpdateChosenInlineResult, h) }

// OnShippingQuery adds h for shipping queries.
func (e *Events) OnShippingQuery(h EventHandler) { e.On(UpdateShippingQuery, h) }

// OnPreCheckoutQuery adds h for pre-checkout queries.
func (e *Events) OnPreCheckoutQuery(h EventHandler) { e.On(UpdatePreCheckoutQuery, h) }

// OnPoll adds h for poll state updates.
func (e *Events) OnPoll(h EventHandler) { e.On(UpdatePoll, h) }

// OnPollAnswer adds h for poll answers.
func (e *Events) OnPollAnswer(h EventHandler) { e.On(UpdatePollAnswer, h) }

// OnMyChatMember adds h for changes of the bot's own membership.
func (e *Events) OnMyChatMember(h EventHandler) { e.On(UpdateMyChatMember, h) }

// OnChatMember adds h for chat member updates.
func (e *Events) OnChatMember(h EventHandler) { e.On(UpdateChatMember, h) }

// OnChatJoinRequest adds h for join requests.
func (e *Events) OnChatJoinRequest(h EventHandler) { e.On(UpdateChatJoinRequest, h) }

// Has reports whether any hook is registered for kind.
func (e *Events) Has(kind UpdateKind) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[kind]) > 0
}

// Dispatch runs the hooks registered for the update kind and returns how many ran.
func (e *Events) Dispatch(ctx context.Context, upd *Update) int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	hooks := append([]EventHandler(nil), e.handlers[upd.Kind]...)
	e.mu.RUnlock()
	for _, h := range hooks {
		if err := runHook(ctx, h, upd); err != nil {
			logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "event.failed",
				slog.String("status", "fail"),
				slog.String("kind", upd.Kind.String()),
				slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
				slog.String("err_code", deriveErrorCode(err)),
			)
		}
	}
	return len(hooks)
}

func runHook(ctx context.Context, h EventHandler, upd *Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, upd)
}

// PanicError wraps a panic raised by an action or hook.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("chain: handler panic: %v", e.Value) }

// Code returns a stable error code for logs.
func (e *PanicError) Code() string { return "PANIC" }
