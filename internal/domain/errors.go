package domain

import "errors"

var (
	ErrAuth                = errors.New("authentication failed")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomExists          = errors.New("room already exists")
	ErrRoomFull            = errors.New("room is full")
	ErrContentNotFound     = errors.New("content not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrStaleCommand        = errors.New("stale command")
	ErrSuperseded          = errors.New("command superseded")
	ErrInvalidCommand      = errors.New("invalid command")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrInternal            = errors.New("internal error")
)
