package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/syncserver/internal/repository/room"
)

func (r repo) getSnapshotKey(roomID string) string {
	return "room:" + roomID + ":snapshot"
}

// SaveSnapshot stores the snapshot unless a newer revision is already stored.
func (r repo) SaveSnapshot(ctx context.Context, params *room.SaveSnapshotParams) error {
	funcName := "room.redis.SaveSnapshot"
	r.logger.DebugContext(ctx, funcName, "room_id", params.RoomID, "revision", params.Snapshot.Revision)

	s := params.Snapshot
	res, err := r.saveScript.Run(ctx, r.rc, []string{r.getSnapshotKey(params.RoomID)},
		s.Revision,
		s.ContentID,
		s.Position,
		boolToField(s.IsPlaying),
		s.UpdatedAt,
		s.Host,
		r.expireDuration.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if res == 0 {
		return room.ErrStaleSnapshot
	}

	return nil
}

func (r repo) GetSnapshot(ctx context.Context, roomID string) (room.Snapshot, error) {
	funcName := "room.redis.GetSnapshot"
	r.logger.DebugContext(ctx, funcName, "room_id", roomID)

	cmd := r.rc.HGetAll(ctx, r.getSnapshotKey(roomID))
	if err := cmd.Err(); err != nil {
		return room.Snapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}

	if len(cmd.Val()) == 0 {
		return room.Snapshot{}, room.ErrSnapshotNotFound
	}

	var snapshot room.Snapshot
	if err := cmd.Scan(&snapshot); err != nil {
		return room.Snapshot{}, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	return snapshot, nil
}

func (r repo) RemoveSnapshot(ctx context.Context, roomID string) error {
	funcName := "room.redis.RemoveSnapshot"
	r.logger.DebugContext(ctx, funcName, "room_id", roomID)

	res, err := r.rc.Del(ctx, r.getSnapshotKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}

	if res == 0 {
		return room.ErrSnapshotNotFound
	}

	return nil
}
