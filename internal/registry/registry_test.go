package registry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() (*Registry, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(domain.DefaultConfig(), 10*time.Minute, clock, logger), clock
}

func TestCreateAndGet(t *testing.T) {
	reg, _ := newTestRegistry()

	room, err := reg.Create("", "video-1")
	require.NoError(t, err)
	assert.Len(t, room.ID(), roomIDLength)

	got, err := reg.Get(room.ID())
	require.NoError(t, err)
	assert.Same(t, room, got)

	_, err = reg.Create(room.ID(), "video-2")
	assert.ErrorIs(t, err, domain.ErrRoomExists)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	assert.True(t, reg.Remove(room.ID()))
	assert.False(t, reg.Remove(room.ID()))
	assert.Equal(t, 0, reg.Len())
}

func TestRestoreKeepsRevision(t *testing.T) {
	reg, clock := newTestRegistry()

	room, err := reg.Restore("r1", domain.PlaybackState{ContentID: "video-1", Position: 900, UpdatedAt: clock.Now()}, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), room.Revision())

	_, err = reg.Restore("r1", domain.PlaybackState{}, 1)
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}

func TestEvictIdle(t *testing.T) {
	reg, clock := newTestRegistry()

	active, err := reg.Create("active", "video-1")
	require.NoError(t, err)
	_, err = active.Apply(domain.Command{Type: domain.CommandJoin, ParticipantID: "A", ReceivedAt: clock.Now()})
	require.NoError(t, err)

	_, err = reg.Create("empty", "video-1")
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	_, err = reg.Get("active")
	require.NoError(t, err)
	assert.Empty(t, reg.EvictIdle())

	clock.Advance(time.Minute)
	assert.Equal(t, []string{"empty"}, reg.EvictIdle())
	assert.Equal(t, []string{"active"}, reg.Rooms())

	clock.Advance(10 * time.Minute)
	_, err = reg.Peek("active")
	require.NoError(t, err)
	assert.Equal(t, []string{"active"}, reg.EvictIdle(), "unaccessed rooms are evicted even when occupied")
	assert.Equal(t, 0, reg.Len())
}
