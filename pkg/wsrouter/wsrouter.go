package wsrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidEnvelope    = errors.New("invalid envelope")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// Envelope is the frame every websocket message travels in.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"roomId"`
	ClientID string          `json:"clientId"`
	TS       int64           `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
}

type HandlerFunc[T any] func(ctx context.Context, payload T) error

type Middleware func(next HandlerFunc[any]) HandlerFunc[any]

// ErrorHandler decides what happens after a failed message. Returning a non-nil
// error stops ServeConn.
type ErrorHandler func(ctx context.Context, err error) error

type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

type WSRouter struct {
	routes       map[string]HandlerFunc[json.RawMessage]
	middlewares  []Middleware
	errorHandler ErrorHandler
	clock        clockwork.Clock
}

type Option func(*WSRouter)

func WithClock(clock clockwork.Clock) Option {
	return func(r *WSRouter) {
		r.clock = clock
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(r *WSRouter) {
		r.errorHandler = h
	}
}

func New(opts ...Option) *WSRouter {
	r := &WSRouter{
		routes:       make(map[string]HandlerFunc[json.RawMessage]),
		errorHandler: func(context.Context, error) error { return nil },
		clock:        clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Use registers middlewares for handlers added after the call.
func (r *WSRouter) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

// Handle registers handler for messageType. The payload is decoded into T before
// the middleware chain runs.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	var h HandlerFunc[any] = func(ctx context.Context, payload any) error {
		return handler(ctx, payload.(T))
	}
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	r.routes[messageType] = func(ctx context.Context, raw json.RawMessage) error {
		var payload T
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
		}

		return h(ctx, payload)
	}
}

// ServeConn reads frames until the connection fails, the context is done or the
// error handler asks to stop. Each frame is stamped with its receipt time before
// it is routed.
func (r *WSRouter) ServeConn(ctx context.Context, conn MessageReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		receivedAt := r.clock.Now()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			if err == nil {
				err = errors.New("missing type")
			}
			if herr := r.errorHandler(ctx, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)); herr != nil {
				return herr
			}
			continue
		}

		msgCtx := context.WithValue(ctx, messageTypeKey, env.Type)
		msgCtx = context.WithValue(msgCtx, receivedAtKey, receivedAt)
		msgCtx = context.WithValue(msgCtx, envelopeKey, env)

		handler, exists := r.routes[env.Type]
		if !exists {
			err = fmt.Errorf("%w: %s", ErrUnknownMessageType, env.Type)
		} else {
			err = handler(msgCtx, env.Payload)
		}

		if err != nil {
			if herr := r.errorHandler(msgCtx, err); herr != nil {
				return herr
			}
		}
	}
}
