package room

import (
	"time"

	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/repository/connection"
)

type JoinParams struct {
	RoomID      string
	ClientID    string
	Token       string
	ContentID   string
	DisplayName string
	ReceivedAt  time.Time
}

type JoinResponse struct {
	// Snapshot is the initial STATE_SYNC for the joining client.
	Snapshot domain.Snapshot
	Resumed  bool
}

type ConfirmParams struct {
	RoomID   string
	ClientID string
	Conn     connection.Conn
	// SyncedSeq is the Seq of the snapshot already written to Conn.
	SyncedSeq uint64
}

type LeaveParams struct {
	RoomID     string
	ClientID   string
	ReceivedAt time.Time
}

type DisconnectParams struct {
	RoomID   string
	ClientID string
	Conn     connection.Conn
}

type ControlParams struct {
	RoomID     string
	ClientID   string
	Action     string
	Position   *int64
	Revision   int64
	ClientTS   int64
	ReceivedAt time.Time
}

type ControlResponse struct {
	Outcome  domain.CommandOutcome
	Revision int64
}

type HeartbeatParams struct {
	RoomID     string
	ClientID   string
	Revision   int64
	RTT        time.Duration
	ClientTS   int64
	ReceivedAt time.Time
}

type HeartbeatResponse struct {
	ClientTS        int64
	ServerTimestamp time.Time
}

type CreateRoomParams struct {
	RoomID    string
	ContentID string
}

type CreateRoomResponse struct {
	RoomID   string
	Snapshot domain.Snapshot
}
