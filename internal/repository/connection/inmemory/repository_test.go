package inmemory

import (
	"io"
	"log/slog"
	"testing"

	"github.com/sharetube/syncserver/internal/repository/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id string
}

func (c stubConn) ID() string { return c.id }
func (c stubConn) Send([]byte) bool { return true }
func (c stubConn) Close([]byte, int, string) {}

func TestReplaceAndRemove(t *testing.T) {
	repo := NewRepo(slog.New(slog.NewTextHandler(io.Discard, nil)))

	first := stubConn{id: "c1"}
	second := stubConn{id: "c2"}

	assert.Nil(t, repo.Add("r1", "alice", first))
	prev := repo.Add("r1", "alice", second)
	require.NotNil(t, prev)
	assert.Equal(t, "c1", prev.ID())

	// the replaced connection going away must not detach the new one
	assert.ErrorIs(t, repo.Remove("r1", "alice", first), connection.ErrNotFound)

	got, err := repo.Get("r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ID())

	require.NoError(t, repo.Remove("r1", "alice", second))
	_, err = repo.Get("r1", "alice")
	assert.ErrorIs(t, err, connection.ErrNotFound)
	assert.Equal(t, 0, repo.Len())
}

func TestRoomConns(t *testing.T) {
	repo := NewRepo(slog.New(slog.NewTextHandler(io.Discard, nil)))

	repo.Add("r1", "bob", stubConn{id: "b"})
	repo.Add("r1", "alice", stubConn{id: "a"})
	repo.Add("r2", "carol", stubConn{id: "c"})

	conns := repo.RoomConns("r1")
	require.Len(t, conns, 2)
	assert.Equal(t, "a", conns[0].ID())
	assert.Equal(t, "b", conns[1].ID())
	assert.Equal(t, 3, repo.Len())

	removed := repo.RemoveRoom("r1")
	assert.Len(t, removed, 2)
	assert.Empty(t, repo.RoomConns("r1"))
	assert.Equal(t, 1, repo.Len())
}
