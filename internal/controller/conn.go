package controller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// wsConn owns the write side of one websocket. Everything after the handshake is
// written by writePump, fed through a bounded queue.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	final     []byte
	closeCode int
	reason    string

	pingPeriod time.Duration
	logger     *slog.Logger
}

func newWSConn(ws *websocket.Conn, queue int, pingPeriod time.Duration, logger *slog.Logger) *wsConn {
	id := uuid.NewString()

	return &wsConn{
		id:         id,
		ws:         ws,
		send:       make(chan []byte, queue),
		done:       make(chan struct{}),
		pingPeriod: pingPeriod,
		logger:     logger.With("conn_id", id),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

// Send queues msg without blocking. It reports false only when the queue is full.
func (c *wsConn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the write pump to write final, if any, followed by a close frame. Only
// the first call has an effect.
func (c *wsConn) Close(final []byte, code int, reason string) {
	c.closeOnce.Do(func() {
		c.final = final
		c.closeCode = code
		c.reason = reason
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.writeClose()
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("failed to write message", "error", err)
				c.Close(nil, websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("failed to write ping", "error", err)
				c.Close(nil, websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *wsConn) writeClose() {
	deadline := time.Now().Add(writeWait)

	if c.final != nil {
		c.ws.SetWriteDeadline(deadline)
		if err := c.ws.WriteMessage(websocket.TextMessage, c.final); err != nil {
			c.logger.Debug("failed to write final message", "error", err)
			return
		}
	}

	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}

	msg := websocket.FormatCloseMessage(c.closeCode, c.reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.logger.Debug("failed to write close message", "error", err)
	}
}
