package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/repository/connection"
)

// Join authenticates the client and adds it to the room as connecting. The room is
// created when a content id is given, or restored from its persisted snapshot.
func (s service) Join(ctx context.Context, params *JoinParams) (JoinResponse, error) {
	identity, err := s.auth.Authenticate(ctx, params.ClientID, params.Token)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("failed to authenticate: %w", err)
	}

	displayName := params.DisplayName
	if displayName == "" {
		displayName = identity.DisplayName
	}
	if displayName == "" {
		displayName = params.ClientID
	}

	room, err := s.getOrCreateRoom(ctx, params.RoomID, params.ContentID)
	if err != nil {
		return JoinResponse{}, err
	}

	res, err := room.Apply(domain.Command{
		Type:          domain.CommandJoin,
		ParticipantID: params.ClientID,
		DisplayName:   displayName,
		ReceivedAt:    params.ReceivedAt,
	})
	s.metrics.CommandHandled(string(domain.CommandJoin), outcomeOf(res, err))
	if err != nil {
		return JoinResponse{}, s.fail(ctx, params.RoomID, fmt.Errorf("failed to join room: %w", err))
	}

	s.logger.InfoContext(ctx, "participant joined", "resumed", res.Resumed, "participants", len(res.Snapshot.Participants))
	s.publish(ctx, res.Snapshot)

	return JoinResponse{
		Snapshot: room.Snapshot(s.clock.Now(), domain.KindState),
		Resumed:  res.Resumed,
	}, nil
}

// Confirm attaches the connection and promotes the participant to connected. A
// connection already attached for the same client is closed as replaced.
func (s service) Confirm(ctx context.Context, params *ConfirmParams) error {
	room, err := s.registry.Get(params.RoomID)
	if err != nil {
		return err
	}

	s.dispatcher.Seed(params.RoomID, params.Conn.ID(), params.SyncedSeq)
	if prev := s.connRepo.Add(params.RoomID, params.ClientID, params.Conn); prev != nil && prev.ID() != params.Conn.ID() {
		s.logger.InfoContext(ctx, "connection replaced", "previous_conn_id", prev.ID())
		prev.Close(nil, protocol.CloseReplaced, "replaced by a newer connection")
	}
	s.metrics.SetConnections(s.connRepo.Len())

	res, err := room.Confirm(params.ClientID, s.clock.Now())
	if err != nil {
		return s.fail(ctx, params.RoomID, fmt.Errorf("failed to confirm participant: %w", err))
	}

	if res.HostChanged {
		s.logger.InfoContext(ctx, "host reclaimed", "host", res.Snapshot.Host)
	}
	s.publish(ctx, res.Snapshot)

	return nil
}

// Leave removes the participant for good.
func (s service) Leave(ctx context.Context, params *LeaveParams) error {
	room, err := s.registry.Get(params.RoomID)
	if err != nil {
		return err
	}

	res, err := room.Apply(domain.Command{
		Type:          domain.CommandLeave,
		ParticipantID: params.ClientID,
		ReceivedAt:    params.ReceivedAt,
	})
	s.metrics.CommandHandled(string(domain.CommandLeave), outcomeOf(res, err))
	if err != nil {
		return s.fail(ctx, params.RoomID, fmt.Errorf("failed to leave room: %w", err))
	}

	s.logger.InfoContext(ctx, "participant left", "host", res.Snapshot.Host)
	s.publish(ctx, res.Snapshot)

	return nil
}

// Disconnect reports an abrupt loss of conn. It is a no-op when conn was already
// replaced or detached, so a stale connection never affects its successor.
func (s service) Disconnect(ctx context.Context, params *DisconnectParams) error {
	if err := s.connRepo.Remove(params.RoomID, params.ClientID, params.Conn); err != nil {
		if errors.Is(err, connection.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to detach connection: %w", err)
	}
	s.metrics.SetConnections(s.connRepo.Len())

	room, err := s.registry.Get(params.RoomID)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			return nil
		}
		return err
	}

	res, err := room.Disconnect(params.ClientID, s.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return nil
		}
		return s.fail(ctx, params.RoomID, fmt.Errorf("failed to disconnect participant: %w", err))
	}

	if !res.Changed {
		return nil
	}

	s.logger.InfoContext(ctx, "participant disconnected", "host", res.Snapshot.Host, "host_changed", res.HostChanged)
	s.publish(ctx, res.Snapshot)

	return nil
}
