package wsrouter

import (
	"context"
	"time"
)

type ctxKey int

const (
	messageTypeKey ctxKey = iota
	receivedAtKey
	envelopeKey
)

func GetMessageTypeFromCtx(ctx context.Context) string {
	messageType, ok := ctx.Value(messageTypeKey).(string)
	if !ok {
		return ""
	}

	return messageType
}

// GetReceivedAtFromCtx returns the time the frame was read off the connection.
func GetReceivedAtFromCtx(ctx context.Context) time.Time {
	receivedAt, ok := ctx.Value(receivedAtKey).(time.Time)
	if !ok {
		return time.Time{}
	}

	return receivedAt
}

func GetEnvelopeFromCtx(ctx context.Context) Envelope {
	env, ok := ctx.Value(envelopeKey).(Envelope)
	if !ok {
		return Envelope{}
	}

	return env
}
