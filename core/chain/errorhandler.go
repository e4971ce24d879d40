package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/m3rciful/chainbot/core/logger"
)

// ErrorHandler receives every failure caught at the per-update boundary.
type ErrorHandler interface {
	HandleError(ctx context.Context, chatID int64, upd *Update, err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(ctx context.Context, chatID int64, upd *Update, err error)

func (f ErrorHandlerFunc) HandleError(ctx context.Context, chatID int64, upd *Update, err error) {
	f(ctx, chatID, upd, err)
}

// LogErrorHandler only logs failures.
var LogErrorHandler = ErrorHandlerFunc(func(ctx context.Context, chatID int64, _ *Update, err error) {
	logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "chain.error",
		slog.String("status", "fail"),
		slog.Int64("chat_id", chatID),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
		slog.String("err_code", deriveErrorCode(err)),
	)
})

// ReplyTexts are the user-facing messages of ReplyErrorHandler.
// UnexpectedType receives the accepted types joined by ", ".
type ReplyTexts struct {
	CommandNotFound string
	StepNotFound    string
	UnexpectedType  string
	ExpiredCallback string
	BadCallback     string
	Unsupported     string
	Timeout         string
	Fallback        string
}

// DefaultReplyTexts are used for empty ReplyTexts fields.
var DefaultReplyTexts = ReplyTexts{
	CommandNotFound: "Unknown command %s.",
	StepNotFound:    "Nothing to continue here. Send /start to begin again.",
	UnexpectedType:  "Please send a message of type: %s.",
	ExpiredCallback: "This button has expired.",
	BadCallback:     "This button is not supported.",
	Unsupported:     "This message type is not supported yet.",
	Timeout:         "That took too long, please try again.",
	Fallback:        "Something went wrong, please try again later.",
}

// ReplyErrorHandler logs a failure and tells the user what happened, either
// in the chat or as a callback notification.
type ReplyErrorHandler struct {
	Messenger Messenger
	Texts     ReplyTexts
}

func (h *ReplyErrorHandler) HandleError(ctx context.Context, chatID int64, upd *Update, err error) {
	LogErrorHandler(ctx, chatID, upd, err)
	if h.Messenger == nil || chatID == 0 {
		return
	}
	text := h.Text(err)
	if upd != nil && upd.Callback != nil {
		if sendErr := h.Messenger.AnswerCallback(ctx, upd.Callback.ID, text); sendErr == nil {
			return
		}
	}
	if sendErr := h.Messenger.Send(ctx, chatID, text, nil); sendErr != nil {
		logger.LogEvent(ctx, logger.Chain, slog.LevelWarn, "chain.error.reply",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(sendErr.Error(), 256)),
		)
	}
}

// Text maps err to the reply shown to the user.
func (h *ReplyErrorHandler) Text(err error) string {
	t := h.texts()
	var (
		chatErr    *ChatError
		notFound   *HandlerNotFoundError
		unexpected *UnexpectedMessageTypeError
		malformed  *MalformedTokenError
	)
	switch {
	case errors.As(err, &chatErr):
		return chatErr.Text
	case errors.As(err, &unexpected):
		return fmt.Sprintf(t.UnexpectedType, joinTypes(unexpected.Accepted))
	case errors.As(err, &notFound):
		switch notFound.Kind {
		case KindCommand:
			return fmt.Sprintf(t.CommandNotFound, notFound.Name)
		case KindStep:
			return t.StepNotFound
		default:
			return t.BadCallback
		}
	case errors.Is(err, ErrExpiredCallback):
		return t.ExpiredCallback
	case errors.As(err, &malformed):
		return t.BadCallback
	case errors.Is(err, ErrUnsupportedMessage):
		return t.Unsupported
	case errors.Is(err, ErrHandlerTimeout):
		return t.Timeout
	default:
		return t.Fallback
	}
}

func (h *ReplyErrorHandler) texts() ReplyTexts {
	t := h.Texts
	d := DefaultReplyTexts
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&t.CommandNotFound, d.CommandNotFound)
	fill(&t.StepNotFound, d.StepNotFound)
	fill(&t.UnexpectedType, d.UnexpectedType)
	fill(&t.ExpiredCallback, d.ExpiredCallback)
	fill(&t.BadCallback, d.BadCallback)
	fill(&t.Unsupported, d.Unsupported)
	fill(&t.Timeout, d.Timeout)
	fill(&t.Fallback, d.Fallback)
	return t
}

func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	switch {
	case errors.Is(err, ErrExpiredCallback):
		return "EXPIRED_CALLBACK"
	case errors.Is(err, ErrUnsupportedMessage):
		return "UNSUPPORTED_MESSAGE"
	case errors.Is(err, ErrHandlerTimeout):
		return "TIMEOUT"
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
