package protocol

import (
	"errors"

	"github.com/sharetube/syncserver/internal/domain"
)

type Code string

const (
	CodeAuth              Code = "AUTH_ERROR"
	CodeRoomNotFound      Code = "ROOM_NOT_FOUND"
	CodeRoomFull          Code = "ROOM_FULL"
	CodeContentNotFound   Code = "CONTENT_NOT_FOUND"
	CodeInvalidMessage    Code = "INVALID_MESSAGE"
	CodeConnectionTimeout Code = "CONNECTION_TIMEOUT"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// websocket close codes in the application range
const (
	CloseBadRequest        = 4000
	CloseAuth              = 4001
	CloseRoomNotFound      = 4004
	CloseContentNotFound   = 4005
	CloseConnectionTimeout = 4008
	CloseRoomFull          = 4009
	CloseReplaced          = 4010
	CloseInternal          = 4011
)

// Message is the user facing text for a code. Internal details never reach clients.
func (c Code) Message() string {
	switch c {
	case CodeAuth:
		return "authentication failed"
	case CodeRoomNotFound:
		return "room not found"
	case CodeRoomFull:
		return "room is full"
	case CodeContentNotFound:
		return "content not found"
	case CodeInvalidMessage:
		return "invalid message"
	case CodeConnectionTimeout:
		return "connection timed out"
	default:
		return "internal error, please reconnect"
	}
}

// CloseCode is the websocket close code sent after an ERROR with this code.
func (c Code) CloseCode() int {
	switch c {
	case CodeAuth:
		return CloseAuth
	case CodeRoomNotFound:
		return CloseRoomNotFound
	case CodeRoomFull:
		return CloseRoomFull
	case CodeContentNotFound:
		return CloseContentNotFound
	case CodeInvalidMessage:
		return CloseBadRequest
	case CodeConnectionTimeout:
		return CloseConnectionTimeout
	default:
		return CloseInternal
	}
}

func CodeFor(err error) Code {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return CodeAuth
	case errors.Is(err, domain.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, domain.ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, domain.ErrContentNotFound):
		return CodeContentNotFound
	case errors.Is(err, domain.ErrInvalidCommand),
		errors.Is(err, domain.ErrParticipantNotFound),
		errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, domain.ErrConnectionTimeout):
		return CodeConnectionTimeout
	default:
		return CodeInternal
	}
}
