package domain

import (
	"fmt"
	"time"
)

type PlaybackState struct {
	ContentID string
	// Position in milliseconds at UpdatedAt.
	Position  int64
	IsPlaying bool
	UpdatedAt time.Time
}

// PositionAt extrapolates the position to t while playing.
func (p PlaybackState) PositionAt(t time.Time) int64 {
	if !p.IsPlaying {
		return p.Position
	}

	elapsed := t.Sub(p.UpdatedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	return p.Position + elapsed
}

// apply is the playback transition table. Only PLAY, PAUSE and SEEK touch playback.
func (p PlaybackState) apply(cmd Command) (PlaybackState, error) {
	if cmd.Position != nil && *cmd.Position < 0 {
		return p, fmt.Errorf("negative position %d: %w", *cmd.Position, ErrInvalidCommand)
	}

	current := p.PositionAt(cmd.ReceivedAt)
	next := p
	next.UpdatedAt = cmd.ReceivedAt

	switch cmd.Type {
	case CommandPlay:
		next.IsPlaying = true
		next.Position = current
		if cmd.Position != nil {
			next.Position = *cmd.Position
		}
	case CommandPause:
		next.IsPlaying = false
		next.Position = current
		if cmd.Position != nil {
			next.Position = *cmd.Position
		}
	case CommandSeek:
		if cmd.Position == nil {
			return p, fmt.Errorf("seek without position: %w", ErrInvalidCommand)
		}
		next.Position = *cmd.Position
	default:
		return p, fmt.Errorf("%s is not a playback command: %w", cmd.Type, ErrInvalidCommand)
	}

	return next, nil
}
