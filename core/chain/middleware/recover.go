// Package middleware holds dispatcher middlewares: panic recovery, receipt
// logging and inbound rate limiting.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/chainbot/core/chain"
	"github.com/m3rciful/chainbot/core/logger"
)

// Recover catches panics escaping the dispatcher so the update loop keeps running.
func Recover(next chain.HandlerFunc) chain.HandlerFunc {
	return func(ctx context.Context, upd *chain.Update) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.LogEvent(ctx, logger.Chain, slog.LevelError, "chain.panic",
					slog.String("status", "fail"),
					slog.String("err", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
				err = &chain.PanicError{Value: r}
			}
		}()
		return next(ctx, upd)
	}
}
