package room

import (
	"context"
	"errors"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
)

// RunPresence sweeps every room at half the heartbeat interval until ctx is done.
func (s service) RunPresence(ctx context.Context) {
	interval := s.heartbeatInterval / 2
	if interval <= 0 {
		interval = domain.DefaultConfig().HeartbeatInterval / 2
	}

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.SweepPresence(ctx)
		}
	}
}

// SweepPresence applies heartbeat timeouts and grace expiry to every room, then
// evicts idle rooms.
func (s service) SweepPresence(ctx context.Context) {
	now := s.clock.Now()

	for _, roomID := range s.registry.Rooms() {
		room, err := s.registry.Peek(roomID)
		if err != nil {
			continue
		}

		res, err := room.Sweep(now)
		if err != nil {
			if errors.Is(err, domain.ErrInternal) {
				s.teardown(ctx, roomID, err)
			}
			continue
		}

		if len(res.TimedOut) > 0 {
			s.metrics.HeartbeatTimedOut(len(res.TimedOut))
			s.closeTimedOut(ctx, roomID, res.TimedOut)
		}
		if len(res.Removed) > 0 {
			s.logger.InfoContext(ctx, "participants removed after grace", "room_id", roomID, "participants", res.Removed)
		}

		if res.Changed {
			s.publish(ctx, res.Snapshot)
		}
	}

	for _, roomID := range s.registry.EvictIdle() {
		s.closeRoom(ctx, roomID, "idle")
	}

	s.metrics.SetActiveRooms(s.registry.Len())
	s.metrics.SetConnections(s.connRepo.Len())
}

func (s service) closeTimedOut(ctx context.Context, roomID string, clientIDs []string) {
	frame, _ := protocol.EncodeError(roomID, s.clock.Now().UnixMilli(), protocol.CodeConnectionTimeout, "")

	for _, clientID := range clientIDs {
		conn, err := s.connRepo.Get(roomID, clientID)
		if err != nil {
			continue
		}

		s.logger.InfoContext(ctx, "heartbeat timeout", "room_id", roomID, "client_id", clientID)
		if err := s.connRepo.Remove(roomID, clientID, conn); err == nil {
			conn.Close(frame, protocol.CloseConnectionTimeout, "heartbeat timeout")
		}
	}
}

// closeRoom releases an evicted room. The persisted snapshot is kept so the room
// can be restored later.
func (s service) closeRoom(ctx context.Context, roomID, reason string) {
	s.dispatcher.Forget(roomID)

	for _, conn := range s.connRepo.RemoveRoom(roomID) {
		conn.Close(nil, 1000, "room closed")
	}

	if err := s.events.PublishRoomClosed(ctx, roomID, reason, s.clock.Now()); err != nil {
		s.logger.WarnContext(ctx, "failed to publish room closed event", "error", err)
	}
}
