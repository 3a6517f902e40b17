package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/validator"
	"github.com/sharetube/syncserver/pkg/wsrouter"
)

type iRoomService interface {
	CreateRoom(context.Context, *room.CreateRoomParams) (room.CreateRoomResponse, error)
	GetRoomState(context.Context, string) (domain.Snapshot, error)
	Join(context.Context, *room.JoinParams) (room.JoinResponse, error)
	Confirm(context.Context, *room.ConfirmParams) error
	Leave(context.Context, *room.LeaveParams) error
	Disconnect(context.Context, *room.DisconnectParams) error
	Control(context.Context, *room.ControlParams) (room.ControlResponse, error)
	Heartbeat(context.Context, *room.HeartbeatParams) (room.HeartbeatResponse, error)
}

type Config struct {
	HandshakeTimeout time.Duration
	OutboundQueue    int
	// PongWait bounds how long a silent connection is kept before its read fails.
	PongWait time.Duration
	Clock    clockwork.Clock
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		OutboundQueue:    64,
		PongWait:         60 * time.Second,
	}
}

type controller struct {
	roomService    iRoomService
	metricsHandler http.Handler
	upgrader       websocket.Upgrader
	validate       *validator.Validator
	wsmux          *wsrouter.WSRouter
	cfg            Config
	clock          clockwork.Clock
	logger         *slog.Logger
}

func NewController(roomService iRoomService, metricsHandler http.Handler, cfg Config, logger *slog.Logger) *controller {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService:    roomService,
		metricsHandler: metricsHandler,
		validate:       validator.NewValidator(),
		cfg:            cfg,
		clock:          clock,
		logger:         logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
