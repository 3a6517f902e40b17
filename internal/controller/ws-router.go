package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

var (
	errLeft             = errors.New("participant left")
	errHandshakeTimeout = fmt.Errorf("handshake timed out: %w", domain.ErrConnectionTimeout)
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New(
		wsrouter.WithClock(c.clock),
		wsrouter.WithErrorHandler(c.handleWSError),
	)
	mux.Use(c.wsRequestIDWSMw(), c.loggerWSMw(), c.sessionWSMw())

	wsrouter.Handle(mux, protocol.TypeLeave, c.handleLeave)
	wsrouter.Handle(mux, protocol.TypeHeartbeat, c.handleHeartbeat)
	wsrouter.Handle(mux, protocol.TypeControl, c.handleControl)

	return mux
}

func (c controller) handleLeave(ctx context.Context, _ protocol.LeaveInput) error {
	if err := c.roomService.Leave(ctx, &room.LeaveParams{
		RoomID:     c.getRoomIDFromCtx(ctx),
		ClientID:   c.getClientIDFromCtx(ctx),
		ReceivedAt: wsrouter.GetReceivedAtFromCtx(ctx),
	}); err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	return errLeft
}

func (c controller) handleHeartbeat(ctx context.Context, input protocol.HeartbeatInput) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, validationErrors[0])
	}

	roomID := c.getRoomIDFromCtx(ctx)
	clientID := c.getClientIDFromCtx(ctx)
	conn := c.getConnFromCtx(ctx)
	env := wsrouter.GetEnvelopeFromCtx(ctx)

	conn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

	resp, err := c.roomService.Heartbeat(ctx, &room.HeartbeatParams{
		RoomID:     roomID,
		ClientID:   clientID,
		Revision:   input.Revision,
		RTT:        time.Duration(input.RTTMs) * time.Millisecond,
		ClientTS:   env.TS,
		ReceivedAt: wsrouter.GetReceivedAtFromCtx(ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to handle heartbeat: %w", err)
	}

	reply, err := protocol.EncodeHeartbeat(roomID, clientID, resp.ClientTS, resp.ServerTimestamp.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to encode heartbeat: %w", err)
	}

	if !conn.Send(reply) {
		return fmt.Errorf("outbound queue full: %w", domain.ErrConnectionTimeout)
	}

	return nil
}

func (c controller) handleControl(ctx context.Context, input protocol.ControlInput) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, validationErrors[0])
	}

	resp, err := c.roomService.Control(ctx, &room.ControlParams{
		RoomID:     c.getRoomIDFromCtx(ctx),
		ClientID:   c.getClientIDFromCtx(ctx),
		Action:     input.Action,
		Position:   input.Position,
		Revision:   input.Revision,
		ClientTS:   wsrouter.GetEnvelopeFromCtx(ctx).TS,
		ReceivedAt: wsrouter.GetReceivedAtFromCtx(ctx),
	})
	if err != nil {
		return fmt.Errorf("failed to apply control: %w", err)
	}

	c.logger.DebugContext(ctx, "control handled", "outcome", resp.Outcome, "revision", resp.Revision)
	return nil
}

// handleWSError answers a failed message. Invalid messages get an ERROR and the
// connection stays open; anything else closes it.
func (c controller) handleWSError(ctx context.Context, err error) error {
	if errors.Is(err, errLeft) {
		return err
	}

	conn := c.getConnFromCtx(ctx)
	roomID := c.getRoomIDFromCtx(ctx)
	code := c.codeFor(err)
	frame, _ := protocol.EncodeError(roomID, c.clock.Now().UnixMilli(), code, "")

	if code == protocol.CodeInvalidMessage {
		c.logger.InfoContext(ctx, "invalid message", "error", err)
		if conn.Send(frame) {
			return nil
		}

		code = protocol.CodeConnectionTimeout
		frame, _ = protocol.EncodeError(roomID, c.clock.Now().UnixMilli(), code, "")
	}

	c.logger.WarnContext(ctx, "closing connection", "error", err, "code", code)
	conn.Close(frame, code.CloseCode(), code.Message())

	return err
}

func (c controller) codeFor(err error) protocol.Code {
	if errors.Is(err, wsrouter.ErrInvalidEnvelope) ||
		errors.Is(err, wsrouter.ErrInvalidPayload) ||
		errors.Is(err, wsrouter.ErrUnknownMessageType) {
		return protocol.CodeInvalidMessage
	}

	return protocol.CodeFor(err)
}
