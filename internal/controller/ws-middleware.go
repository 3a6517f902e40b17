package controller

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

func (c controller) wsRequestIDWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedID()))
			return next(ctx, payload)
		}
	}
}

func (c controller) loggerWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, payload any) error {
			ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.GetMessageTypeFromCtx(ctx)))
			c.logger.DebugContext(ctx, "websocket message received", "payload", payload)

			start := time.Now()

			err := next(ctx, payload)

			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			c.logger.DebugContext(ctx, "websocket message handled",
				"processing_time_us", time.Since(start).Microseconds(),
				"alloc", memStats.Alloc/1024,
				"sys", memStats.Sys/1024,
				"goroutines", runtime.NumGoroutine(),
			)

			return err
		}
	}
}

// sessionWSMw rejects frames addressed to another room or client than the one the
// connection joined as.
func (c controller) sessionWSMw() wsrouter.Middleware {
	return func(next wsrouter.HandlerFunc[any]) wsrouter.HandlerFunc[any] {
		return func(ctx context.Context, payload any) error {
			env := wsrouter.GetEnvelopeFromCtx(ctx)

			if env.RoomID != "" && env.RoomID != c.getRoomIDFromCtx(ctx) {
				return fmt.Errorf("%w: room id mismatch", protocol.ErrInvalidMessage)
			}
			if env.ClientID != "" && env.ClientID != c.getClientIDFromCtx(ctx) {
				return fmt.Errorf("%w: client id mismatch", protocol.ErrInvalidMessage)
			}

			return next(ctx, payload)
		}
	}
}
