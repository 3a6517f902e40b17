package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/pkg/randstr"
)

const roomIDLength = 8

type iGenerator interface {
	GenerateRandomString(length int) string
}

type entry struct {
	room       *domain.Room
	lastAccess time.Time
}

// Registry owns every live room. Its mutex only guards the map; rooms carry their
// own locks so unrelated rooms never contend.
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*entry
	roomCfg   domain.Config
	idle      time.Duration
	clock     clockwork.Clock
	generator iGenerator
	logger    *slog.Logger
}

func New(roomCfg domain.Config, idle time.Duration, clock clockwork.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]*entry),
		roomCfg:   roomCfg,
		idle:      idle,
		clock:     clock,
		generator: randstr.New(randstr.DefaultCharset),
		logger:    logger,
	}
}

// Create makes a new room. An empty roomID gets a generated one.
func (r *Registry) Create(roomID, contentID string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if roomID == "" {
		roomID = r.freeID()
	}
	if _, ok := r.rooms[roomID]; ok {
		return nil, fmt.Errorf("failed to create room %s: %w", roomID, domain.ErrRoomExists)
	}

	now := r.clock.Now()
	room := domain.NewRoom(roomID, contentID, r.roomCfg, now)
	r.rooms[roomID] = &entry{room: room, lastAccess: now}

	r.logger.Debug("room created", "room_id", roomID, "content_id", contentID)
	return room, nil
}

// Restore seeds a room from a persisted snapshot so its revision keeps growing.
func (r *Registry) Restore(roomID string, playback domain.PlaybackState, revision int64) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; ok {
		return nil, fmt.Errorf("failed to restore room %s: %w", roomID, domain.ErrRoomExists)
	}

	now := r.clock.Now()
	room := domain.RestoreRoom(roomID, playback, revision, r.roomCfg, now)
	r.rooms[roomID] = &entry{room: room, lastAccess: now}

	r.logger.Debug("room restored", "room_id", roomID, "revision", revision)
	return room, nil
}

func (r *Registry) Get(roomID string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, domain.ErrRoomNotFound)
	}
	e.lastAccess = r.clock.Now()

	return e.room, nil
}

// Peek returns a room without counting as an access.
func (r *Registry) Peek(roomID string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, domain.ErrRoomNotFound)
	}

	return e.room, nil
}

func (r *Registry) Remove(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return false
	}
	delete(r.rooms, roomID)

	return true
}

// Rooms returns the ids of all live rooms, sorted.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

// EvictIdle drops rooms that were not accessed, or stayed empty, for the idle window.
func (r *Registry) EvictIdle() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var evicted []string
	for id, e := range r.rooms {
		if now.Sub(e.lastAccess) >= r.idle || e.room.Idle(now, r.idle) {
			delete(r.rooms, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)

	if len(evicted) > 0 {
		r.logger.Info("evicted idle rooms", "rooms", evicted)
	}

	return evicted
}

func (r *Registry) freeID() string {
	for {
		id := r.generator.GenerateRandomString(roomIDLength)
		if _, ok := r.rooms[id]; !ok {
			return id
		}
	}
}
