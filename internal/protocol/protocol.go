package protocol

import (
	"encoding/json"
	"errors"

	"github.com/sharetube/syncserver/internal/domain"
)

const (
	TypeJoin           = "JOIN"
	TypeLeave          = "LEAVE"
	TypeHeartbeat      = "HEARTBEAT"
	TypeControl        = "CONTROL"
	TypeStateSync      = "STATE_SYNC"
	TypePresenceUpdate = "PRESENCE_UPDATE"
	TypeError          = "ERROR"
)

var ErrInvalidMessage = errors.New("invalid message")

// Output is the envelope of every server to client message.
type Output struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId,omitempty"`
	ClientID string `json:"clientId,omitempty"`
	TS       int64  `json:"ts"`
	Payload  any    `json:"payload"`
}

type JoinInput struct {
	Token       string `json:"token" validate:"required"`
	ContentID   string `json:"contentId" validate:"max=128"`
	DisplayName string `json:"displayName" validate:"max=64"`
}

// JoinMessage is the handshake frame. It is read before the router takes over the
// connection, so it carries the whole envelope.
type JoinMessage struct {
	Type     string    `json:"type" validate:"required,eq=JOIN"`
	RoomID   string    `json:"roomId" validate:"required,max=64"`
	ClientID string    `json:"clientId" validate:"required,max=64"`
	TS       int64     `json:"ts"`
	Payload  JoinInput `json:"payload"`
}

type ControlInput struct {
	Action   string `json:"action" validate:"required,oneof=PLAY PAUSE SEEK"`
	Position *int64 `json:"position" validate:"omitempty,gte=0"`
	Revision int64  `json:"revision" validate:"gte=0"`
}

type HeartbeatInput struct {
	Revision int64 `json:"revision" validate:"gte=0"`
	RTTMs    int64 `json:"rttMs" validate:"gte=0"`
}

type HeartbeatOutput struct {
	ClientTS        int64 `json:"clientTs"`
	ServerTimestamp int64 `json:"serverTimestamp"`
}

type LeaveInput struct{}

type ParticipantOutput struct {
	ClientID    string `json:"clientId"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	IsHost      bool   `json:"isHost"`
	LatencyMs   int64  `json:"latencyMs"`
}

type SnapshotOutput struct {
	Revision        int64               `json:"revision"`
	ContentID       string              `json:"contentId"`
	Position        int64               `json:"position"`
	IsPlaying       bool                `json:"isPlaying"`
	Host            string              `json:"host"`
	Participants    []ParticipantOutput `json:"participants"`
	ServerTimestamp int64               `json:"serverTimestamp"`
}

type ErrorOutput struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func NewSnapshotOutput(s domain.Snapshot) SnapshotOutput {
	participants := make([]ParticipantOutput, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, ParticipantOutput{
			ClientID:    p.ID,
			DisplayName: p.DisplayName,
			State:       string(p.State),
			IsHost:      p.IsHost,
			LatencyMs:   p.Latency.Milliseconds(),
		})
	}

	return SnapshotOutput{
		Revision:        s.Revision,
		ContentID:       s.ContentID,
		Position:        s.Position,
		IsPlaying:       s.IsPlaying,
		Host:            s.Host,
		Participants:    participants,
		ServerTimestamp: s.ServerTimestamp.UnixMilli(),
	}
}

// EncodeSnapshot renders a snapshot as STATE_SYNC or PRESENCE_UPDATE depending on its kind.
func EncodeSnapshot(s domain.Snapshot) ([]byte, error) {
	return json.Marshal(&Output{
		Type:    s.Kind.String(),
		RoomID:  s.RoomID,
		TS:      s.ServerTimestamp.UnixMilli(),
		Payload: NewSnapshotOutput(s),
	})
}

func EncodeError(roomID string, ts int64, code Code, message string) ([]byte, error) {
	if message == "" {
		message = code.Message()
	}

	return json.Marshal(&Output{
		Type:    TypeError,
		RoomID:  roomID,
		TS:      ts,
		Payload: ErrorOutput{Code: code, Message: message},
	})
}

func EncodeHeartbeat(roomID, clientID string, clientTS, serverTS int64) ([]byte, error) {
	return json.Marshal(&Output{
		Type:     TypeHeartbeat,
		RoomID:   roomID,
		ClientID: clientID,
		TS:       serverTS,
		Payload:  HeartbeatOutput{ClientTS: clientTS, ServerTimestamp: serverTS},
	})
}
