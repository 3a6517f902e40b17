package controller

import "context"

type contextKey int

const (
	roomIDCtxKey contextKey = iota
	clientIDCtxKey
	connCtxKey
)

func (c controller) getRoomIDFromCtx(ctx context.Context) string {
	roomID, ok := ctx.Value(roomIDCtxKey).(string)
	if !ok {
		return ""
	}

	return roomID
}

func (c controller) getClientIDFromCtx(ctx context.Context) string {
	clientID, ok := ctx.Value(clientIDCtxKey).(string)
	if !ok {
		return ""
	}

	return clientID
}

func (c controller) getConnFromCtx(ctx context.Context) *wsConn {
	conn, ok := ctx.Value(connCtxKey).(*wsConn)
	if !ok {
		return nil
	}

	return conn
}
