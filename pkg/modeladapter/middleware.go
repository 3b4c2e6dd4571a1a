package modeladapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/msgprep/pkg/history/message"
	"github.com/germanamz/msgprep/pkg/requestctx"
)

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, msgs []message.Message) (message.Message, error)

// Complete calls the underlying function.
func (f CompleterFunc) Complete(ctx context.Context, msgs []message.Message) (message.Message, error) {
	return f(ctx, msgs)
}

// Middleware wraps a Completer, returning a new Completer with added behaviour.
type Middleware func(next Completer) Completer

// Chain applies mws to c so that the first middleware is the outermost.
func Chain(c Completer, mws ...Middleware) Completer {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// --- Timeout middleware ---

// Timeout returns a Middleware that bounds each completion with a deadline.
// A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Completer) Completer {
		if d <= 0 {
			return next
		}
		return CompleterFunc(func(ctx context.Context, msgs []message.Message) (message.Message, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next.Complete(ctx, msgs)
		})
	}
}

// --- Recovery middleware ---

// Recovery returns a Middleware that catches panics and converts them to errors.
func Recovery() Middleware {
	return func(next Completer) Completer {
		return CompleterFunc(func(ctx context.Context, msgs []message.Message) (msg message.Message, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("completer panicked: %v", r)
				}
			}()

			return next.Complete(ctx, msgs)
		})
	}
}

// --- Logger middleware ---

// Logger returns a Middleware that logs each completion's size, duration and
// error under the given provider name and the request ID from the context,
// if any.
func Logger(log *slog.Logger, provider string) Middleware {
	return func(next Completer) Completer {
		return CompleterFunc(func(ctx context.Context, msgs []message.Message) (message.Message, error) {
			l := log.With("provider", provider)
			if id := requestctx.RequestIDFromContext(ctx); id != "" {
				l = l.With("request_id", id)
			}

			l.DebugContext(ctx, "completion started", "messages", len(msgs))

			start := time.Now()

			msg, err := next.Complete(ctx, msgs)

			duration := time.Since(start)

			if err != nil {
				l.ErrorContext(ctx, "completion failed",
					"duration", duration,
					"error", err,
				)
			} else {
				l.InfoContext(ctx, "completion finished",
					"duration", duration,
					"parts", len(msg.Parts),
				)
			}

			return msg, err
		})
	}
}
