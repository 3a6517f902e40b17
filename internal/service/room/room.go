package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sharetube/syncserver/internal/domain"
	roomRepo "github.com/sharetube/syncserver/internal/repository/room"
)

func (s service) CreateRoom(ctx context.Context, params *CreateRoomParams) (CreateRoomResponse, error) {
	if err := s.checkContent(ctx, params.ContentID); err != nil {
		return CreateRoomResponse{}, err
	}

	if params.RoomID != "" {
		if _, err := s.loadSnapshot(ctx, params.RoomID); err == nil {
			return CreateRoomResponse{}, fmt.Errorf("failed to create room %s: %w", params.RoomID, domain.ErrRoomExists)
		}
	}

	room, err := s.registry.Create(params.RoomID, params.ContentID)
	if err != nil {
		return CreateRoomResponse{}, err
	}
	s.metrics.SetActiveRooms(s.registry.Len())

	snapshot := room.Snapshot(s.clock.Now(), domain.KindState)
	s.persist(ctx, snapshot)

	s.logger.InfoContext(ctx, "room created", "room_id", room.ID(), "content_id", params.ContentID)
	return CreateRoomResponse{RoomID: room.ID(), Snapshot: snapshot}, nil
}

// GetRoomState returns the live state of a room, or its last persisted state when
// the room is not loaded.
func (s service) GetRoomState(ctx context.Context, roomID string) (domain.Snapshot, error) {
	room, err := s.registry.Get(roomID)
	if err == nil {
		return room.Snapshot(s.clock.Now(), domain.KindState), nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return domain.Snapshot{}, err
	}

	stored, err := s.loadSnapshot(ctx, roomID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	now := s.clock.Now()
	return domain.Snapshot{
		RoomID:          roomID,
		Revision:        stored.Revision,
		Kind:            domain.KindState,
		ContentID:       stored.ContentID,
		Position:        storedPlayback(stored).PositionAt(now),
		IsPlaying:       stored.IsPlaying,
		Participants:    []domain.ParticipantView{},
		ServerTimestamp: now,
	}, nil
}

func (s service) getOrCreateRoom(ctx context.Context, roomID, contentID string) (*domain.Room, error) {
	room, err := s.registry.Get(roomID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, domain.ErrRoomNotFound) {
		return nil, err
	}

	stored, err := s.loadSnapshot(ctx, roomID)
	switch {
	case err == nil:
		room, err = s.registry.Restore(roomID, storedPlayback(stored), stored.Revision)
	case errors.Is(err, domain.ErrRoomNotFound) && contentID != "":
		if err := s.checkContent(ctx, contentID); err != nil {
			return nil, err
		}
		room, err = s.registry.Create(roomID, contentID)
	default:
		return nil, err
	}

	if errors.Is(err, domain.ErrRoomExists) {
		// another join won the race
		return s.registry.Get(roomID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.SetActiveRooms(s.registry.Len())
	return room, nil
}

func (s service) checkContent(ctx context.Context, contentID string) error {
	if s.catalog == nil {
		return nil
	}

	exists, err := s.catalog.ContentExists(ctx, contentID)
	if err != nil {
		return fmt.Errorf("failed to check content %s: %w", contentID, err)
	}

	if !exists {
		return fmt.Errorf("content %s: %w", contentID, domain.ErrContentNotFound)
	}

	return nil
}

func (s service) loadSnapshot(ctx context.Context, roomID string) (roomRepo.Snapshot, error) {
	if s.roomRepo == nil {
		return roomRepo.Snapshot{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}

	stored, err := s.roomRepo.GetSnapshot(ctx, roomID)
	if errors.Is(err, roomRepo.ErrSnapshotNotFound) {
		return roomRepo.Snapshot{}, fmt.Errorf("room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	if err != nil {
		return roomRepo.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return stored, nil
}

func storedPlayback(stored roomRepo.Snapshot) domain.PlaybackState {
	return domain.PlaybackState{
		ContentID: stored.ContentID,
		Position:  stored.Position,
		IsPlaying: stored.IsPlaying,
		UpdatedAt: time.UnixMilli(stored.UpdatedAt),
	}
}
