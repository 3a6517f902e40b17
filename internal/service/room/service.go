package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncserver/internal/auth"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/repository/connection"
	roomRepo "github.com/sharetube/syncserver/internal/repository/room"
)

type iRegistry interface {
	Create(roomID, contentID string) (*domain.Room, error)
	Restore(roomID string, playback domain.PlaybackState, revision int64) (*domain.Room, error)
	Get(roomID string) (*domain.Room, error)
	Peek(roomID string) (*domain.Room, error)
	Remove(roomID string) bool
	Rooms() []string
	Len() int
	EvictIdle() []string
}

type iConnRepo interface {
	Add(roomID, clientID string, conn connection.Conn) connection.Conn
	Remove(roomID, clientID string, conn connection.Conn) error
	Get(roomID, clientID string) (connection.Conn, error)
	RoomConns(roomID string) []connection.Conn
	RemoveRoom(roomID string) []connection.Conn
	Len() int
}

type iRoomRepo interface {
	SaveSnapshot(context.Context, *roomRepo.SaveSnapshotParams) error
	GetSnapshot(context.Context, string) (roomRepo.Snapshot, error)
	RemoveSnapshot(context.Context, string) error
}

type iCatalog interface {
	ContentExists(ctx context.Context, contentID string) (bool, error)
}

type iAuthenticator interface {
	Authenticate(ctx context.Context, clientID, token string) (auth.Identity, error)
}

type iDispatcher interface {
	Publish(domain.Snapshot)
	Hold(s domain.Snapshot, window time.Duration)
	Seed(roomID, connID string, seq uint64)
	Forget(roomID string)
}

type iEvents interface {
	PublishSnapshot(context.Context, domain.Snapshot) error
	PublishRoomClosed(ctx context.Context, roomID, reason string, at time.Time) error
}

type iMetrics interface {
	CommandHandled(commandType, outcome string)
	HeartbeatTimedOut(n int)
	SetActiveRooms(n int)
	SetConnections(n int)
}

// Deps are the collaborators of the service. RoomRepo and Catalog may be nil when
// Redis is disabled: nothing is persisted and every content id is accepted.
type Deps struct {
	Registry   iRegistry
	ConnRepo   iConnRepo
	Dispatcher iDispatcher
	RoomRepo   iRoomRepo
	Catalog    iCatalog
	Auth       iAuthenticator
	Events     iEvents
	Metrics    iMetrics
}

type Config struct {
	HeartbeatInterval time.Duration
	// CoalesceWindow holds back the broadcast of a control command so a concurrent
	// command arriving within it replaces the earlier one on the wire.
	CoalesceWindow time.Duration
	Clock          clockwork.Clock
}

type service struct {
	registry   iRegistry
	connRepo   iConnRepo
	dispatcher iDispatcher
	roomRepo   iRoomRepo
	catalog    iCatalog
	auth       iAuthenticator
	events     iEvents
	metrics    iMetrics

	heartbeatInterval time.Duration
	coalesceWindow    time.Duration
	clock             clockwork.Clock
	logger            *slog.Logger
}

func NewService(deps Deps, cfg *Config, logger *slog.Logger) *service {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	s := service{
		registry:          deps.Registry,
		connRepo:          deps.ConnRepo,
		dispatcher:        deps.Dispatcher,
		roomRepo:          deps.RoomRepo,
		catalog:           deps.Catalog,
		auth:              deps.Auth,
		events:            deps.Events,
		metrics:           deps.Metrics,
		heartbeatInterval: cfg.HeartbeatInterval,
		coalesceWindow:    cfg.CoalesceWindow,
		clock:             clock,
		logger:            logger,
	}
	if s.events == nil {
		s.events = nopEvents{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}

	return &s
}

type nopEvents struct{}

func (nopEvents) PublishSnapshot(context.Context, domain.Snapshot) error { return nil }
func (nopEvents) PublishRoomClosed(context.Context, string, string, time.Time) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) CommandHandled(string, string) {}
func (nopMetrics) HeartbeatTimedOut(int) {}
func (nopMetrics) SetActiveRooms(int) {}
func (nopMetrics) SetConnections(int) {}
