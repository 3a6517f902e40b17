package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
)

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}
	ctx := r.Context()

	join, receivedAt, err := c.readJoin(ws)
	if err != nil {
		c.logger.InfoContext(ctx, "handshake failed", "error", err)
		c.rejectHandshake(ws, join.RoomID, err)
		return
	}

	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", join.RoomID))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("client_id", join.ClientID))

	joinResp, err := c.roomService.Join(ctx, &room.JoinParams{
		RoomID:      join.RoomID,
		ClientID:    join.ClientID,
		Token:       join.Payload.Token,
		ContentID:   join.Payload.ContentID,
		DisplayName: join.Payload.DisplayName,
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		c.logger.InfoContext(ctx, "failed to join room", "error", err)
		c.rejectHandshake(ws, join.RoomID, err)
		return
	}

	initial, err := protocol.EncodeSnapshot(joinResp.Snapshot)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to encode snapshot", "error", err)
		c.rejectHandshake(ws, join.RoomID, err)
		return
	}

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, initial); err != nil {
		c.logger.InfoContext(ctx, "failed to write initial state", "error", err)
		ws.Close()
		return
	}

	conn := newWSConn(ws, c.cfg.OutboundQueue, c.cfg.PongWait*9/10, c.logger)
	go conn.writePump()

	ctx = ctxlogger.AppendCtx(ctx, slog.String("conn_id", conn.ID()))
	defer func() {
		conn.Close(nil, websocket.CloseNormalClosure, "")
		if err := c.roomService.Disconnect(ctx, &room.DisconnectParams{
			RoomID:   join.RoomID,
			ClientID: join.ClientID,
			Conn:     conn,
		}); err != nil {
			c.logger.WarnContext(ctx, "failed to disconnect participant", "error", err)
		}
	}()

	if err := c.roomService.Confirm(ctx, &room.ConfirmParams{
		RoomID:    join.RoomID,
		ClientID:  join.ClientID,
		Conn:      conn,
		SyncedSeq: joinResp.Snapshot.Seq,
	}); err != nil {
		c.logger.WarnContext(ctx, "failed to confirm participant", "error", err)
		c.closeWithError(conn, join.RoomID, err)
		return
	}
	c.logger.InfoContext(ctx, "participant connected", "resumed", joinResp.Resumed)

	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	ctx = context.WithValue(ctx, roomIDCtxKey, join.RoomID)
	ctx = context.WithValue(ctx, clientIDCtxKey, join.ClientID)
	ctx = context.WithValue(ctx, connCtxKey, conn)

	if err := c.wsmux.ServeConn(ctx, ws); err != nil {
		switch {
		case errors.Is(err, errLeft):
			conn.Close(nil, websocket.CloseNormalClosure, "left")
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			c.logger.DebugContext(ctx, "connection closed by client")
		default:
			c.logger.InfoContext(ctx, "connection ended", "error", err)
		}
	}
}

// readJoin reads the handshake frame. It must arrive within the handshake timeout.
func (c controller) readJoin(ws *websocket.Conn) (protocol.JoinMessage, time.Time, error) {
	var join protocol.JoinMessage

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))

	_, data, err := ws.ReadMessage()
	receivedAt := c.clock.Now()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return join, receivedAt, errHandshakeTimeout
		}
		return join, receivedAt, fmt.Errorf("failed to read handshake: %w", err)
	}

	if err := json.Unmarshal(data, &join); err != nil {
		return join, receivedAt, fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, err)
	}

	if validationErrors, ok := c.validate.Validate(join); !ok {
		return join, receivedAt, fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, validationErrors[0])
	}

	return join, receivedAt, nil
}

// rejectHandshake writes an ERROR frame and a close frame directly, since no write
// pump runs yet.
func (c controller) rejectHandshake(ws *websocket.Conn, roomID string, err error) {
	defer ws.Close()

	code := c.codeFor(err)
	frame, _ := protocol.EncodeError(roomID, c.clock.Now().UnixMilli(), code, "")

	deadline := time.Now().Add(writeWait)
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return
	}

	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code.CloseCode(), code.Message()), deadline)
}

func (c controller) closeWithError(conn *wsConn, roomID string, err error) {
	code := c.codeFor(err)
	frame, _ := protocol.EncodeError(roomID, c.clock.Now().UnixMilli(), code, "")

	conn.Close(frame, code.CloseCode(), code.Message())
}
