package room

import (
	"context"
	"errors"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
	roomRepo "github.com/sharetube/syncserver/internal/repository/room"
)

// publish hands a snapshot to the dispatcher, the event feed and the snapshot store.
// It must be called after the room lock is released.
func (s service) publish(ctx context.Context, snapshot domain.Snapshot) {
	s.dispatcher.Publish(snapshot)
	s.record(ctx, snapshot)
}

// publishControl is publish for timeline changes: clients only see the snapshot
// once the coalescing window passes without a newer one.
func (s service) publishControl(ctx context.Context, snapshot domain.Snapshot) {
	s.dispatcher.Hold(snapshot, s.coalesceWindow)
	s.record(ctx, snapshot)
}

func (s service) record(ctx context.Context, snapshot domain.Snapshot) {
	if err := s.events.PublishSnapshot(ctx, snapshot); err != nil {
		s.logger.WarnContext(ctx, "failed to publish snapshot event", "error", err)
	}

	s.persist(ctx, snapshot)
}

func (s service) persist(ctx context.Context, snapshot domain.Snapshot) {
	if s.roomRepo == nil {
		return
	}

	err := s.roomRepo.SaveSnapshot(ctx, &roomRepo.SaveSnapshotParams{
		RoomID: snapshot.RoomID,
		Snapshot: roomRepo.Snapshot{
			Revision:  snapshot.Revision,
			ContentID: snapshot.ContentID,
			Position:  snapshot.Position,
			IsPlaying: snapshot.IsPlaying,
			UpdatedAt: snapshot.ServerTimestamp.UnixMilli(),
			Host:      snapshot.Host,
		},
	})
	switch {
	case errors.Is(err, roomRepo.ErrStaleSnapshot):
		s.logger.DebugContext(ctx, "newer snapshot already stored", "revision", snapshot.Revision)
	case err != nil:
		s.logger.WarnContext(ctx, "failed to persist snapshot", "error", err)
	}
}

// fail tears the room down when err reports a broken room, and returns err.
func (s service) fail(ctx context.Context, roomID string, err error) error {
	if errors.Is(err, domain.ErrInternal) {
		s.teardown(ctx, roomID, err)
	}

	return err
}

// teardown destroys a room whose invariants no longer hold. Every attached client
// is told to reconnect.
func (s service) teardown(ctx context.Context, roomID string, cause error) {
	s.logger.ErrorContext(ctx, "tearing down room", "room_id", roomID, "error", cause)

	s.registry.Remove(roomID)
	s.dispatcher.Forget(roomID)

	if s.roomRepo != nil {
		if err := s.roomRepo.RemoveSnapshot(ctx, roomID); err != nil && !errors.Is(err, roomRepo.ErrSnapshotNotFound) {
			s.logger.WarnContext(ctx, "failed to remove snapshot", "room_id", roomID, "error", err)
		}
	}

	now := s.clock.Now()
	frame, _ := protocol.EncodeError(roomID, now.UnixMilli(), protocol.CodeInternal, "")
	for _, conn := range s.connRepo.RemoveRoom(roomID) {
		conn.Close(frame, protocol.CloseInternal, "internal error")
	}

	if err := s.events.PublishRoomClosed(ctx, roomID, "internal_error", now); err != nil {
		s.logger.WarnContext(ctx, "failed to publish room closed event", "error", err)
	}

	s.metrics.SetActiveRooms(s.registry.Len())
	s.metrics.SetConnections(s.connRepo.Len())
}

func outcomeOf(res domain.Result, err error) string {
	if err != nil {
		return string(domain.OutcomeRejected)
	}
	if res.Outcome == "" {
		return string(domain.OutcomeApplied)
	}

	return string(res.Outcome)
}
