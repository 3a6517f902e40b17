package inmemory

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sharetube/syncserver/internal/repository/connection"
)

type repo struct {
	rooms  map[string]map[string]connection.Conn
	mu     sync.RWMutex
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		rooms:  make(map[string]map[string]connection.Conn),
		logger: logger,
	}
}

// Add attaches conn for the client and returns the connection it replaced, if any.
func (r *repo) Add(roomID, clientID string, conn connection.Conn) connection.Conn {
	funcName := "connection.inmemory.Add"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "room_id", roomID, "client_id", clientID, "conn_id", conn.ID())
	conns, ok := r.rooms[roomID]
	if !ok {
		conns = make(map[string]connection.Conn)
		r.rooms[roomID] = conns
	}

	prev := conns[clientID]
	conns[clientID] = conn

	if prev != nil {
		r.logger.Debug(funcName, "replaced", prev.ID())
	}
	return prev
}

// Remove detaches conn only while it is still the client's current connection.
func (r *repo) Remove(roomID, clientID string, conn connection.Conn) error {
	funcName := "connection.inmemory.Remove"
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug(funcName, "room_id", roomID, "client_id", clientID, "conn_id", conn.ID())
	conns := r.rooms[roomID]
	current, ok := conns[clientID]
	if !ok || current.ID() != conn.ID() {
		r.logger.Debug(funcName, "error", connection.ErrNotFound)
		return connection.ErrNotFound
	}

	delete(conns, clientID)
	if len(conns) == 0 {
		delete(r.rooms, roomID)
	}

	return nil
}

func (r *repo) Get(roomID, clientID string) (connection.Conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.rooms[roomID][clientID]
	if !ok {
		return nil, connection.ErrNotFound
	}

	return conn, nil
}

// RoomConns returns the attached connections of a room ordered by client id.
func (r *repo) RoomConns(roomID string) []connection.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sorted(r.rooms[roomID])
}

// RemoveRoom detaches and returns every connection of the room.
func (r *repo) RemoveRoom(roomID string) []connection.Conn {
	funcName := "connection.inmemory.RemoveRoom"
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := sorted(r.rooms[roomID])
	delete(r.rooms, roomID)

	r.logger.Debug(funcName, "room_id", roomID, "count", len(conns))
	return conns
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.rooms {
		n += len(conns)
	}

	return n
}

func sorted(conns map[string]connection.Conn) []connection.Conn {
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]connection.Conn, 0, len(ids))
	for _, id := range ids {
		out = append(out, conns[id])
	}

	return out
}
