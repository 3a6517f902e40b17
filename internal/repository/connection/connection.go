package connection

import "errors"

var ErrNotFound = errors.New("connection not found")

// Conn is an attached client connection as seen by everything above the gateway.
type Conn interface {
	ID() string
	// Send enqueues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	// Close writes final (when not nil) and a close frame, then tears the connection down.
	// It is safe to call more than once.
	Close(final []byte, code int, reason string)
}
