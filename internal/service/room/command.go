package room

import (
	"context"
	"fmt"

	"github.com/sharetube/syncserver/internal/domain"
)

// Control runs a PLAY, PAUSE or SEEK through the room. Superseded and stale commands
// are not errors; they are reported through the outcome and never broadcast.
func (s service) Control(ctx context.Context, params *ControlParams) (ControlResponse, error) {
	cmdType := domain.CommandType(params.Action)
	if !cmdType.IsControl() {
		return ControlResponse{}, fmt.Errorf("unknown action %q: %w", params.Action, domain.ErrInvalidCommand)
	}

	room, err := s.registry.Get(params.RoomID)
	if err != nil {
		return ControlResponse{}, err
	}

	res, err := room.Apply(domain.Command{
		Type:          cmdType,
		ParticipantID: params.ClientID,
		ClientTS:      params.ClientTS,
		ReceivedAt:    params.ReceivedAt,
		Position:      params.Position,
		Revision:      params.Revision,
	})
	s.metrics.CommandHandled(string(cmdType), outcomeOf(res, err))
	if err != nil {
		return ControlResponse{}, s.fail(ctx, params.RoomID, fmt.Errorf("failed to apply %s: %w", cmdType, err))
	}

	if res.Changed {
		s.publishControl(ctx, res.Snapshot)
	} else if err := res.Outcome.Err(); err != nil {
		s.logger.DebugContext(ctx, "command not applied", "type", cmdType, "error", err)
	}

	return ControlResponse{Outcome: res.Outcome, Revision: room.Revision()}, nil
}

// Heartbeat refreshes liveness, folds in the client's round trip estimate and
// records its acknowledged revision.
func (s service) Heartbeat(ctx context.Context, params *HeartbeatParams) (HeartbeatResponse, error) {
	room, err := s.registry.Get(params.RoomID)
	if err != nil {
		return HeartbeatResponse{}, err
	}

	res, err := room.Apply(domain.Command{
		Type:          domain.CommandHeartbeat,
		ParticipantID: params.ClientID,
		ClientTS:      params.ClientTS,
		ReceivedAt:    params.ReceivedAt,
		Revision:      params.Revision,
		RTT:           params.RTT,
	})
	s.metrics.CommandHandled(string(domain.CommandHeartbeat), outcomeOf(res, err))
	if err != nil {
		return HeartbeatResponse{}, s.fail(ctx, params.RoomID, fmt.Errorf("failed to apply heartbeat: %w", err))
	}

	return HeartbeatResponse{
		ClientTS:        params.ClientTS,
		ServerTimestamp: s.clock.Now(),
	}, nil
}
