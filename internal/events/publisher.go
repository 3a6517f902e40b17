package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
)

const subjectPrefix = "watchparty.rooms"

const (
	EventSnapshot = "snapshot"
	EventClosed   = "closed"
)

type Config struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher mirrors room activity onto NATS. A nil *Publisher drops everything.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("watchparty-syncserver"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", "error", err)
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &Publisher{nc: nc, logger: logger}, nil
}

func Subject(roomID, event string) string {
	return subjectPrefix + "." + roomID + "." + event
}

func (p *Publisher) PublishSnapshot(ctx context.Context, s domain.Snapshot) error {
	if p == nil {
		return nil
	}

	data, err := protocol.EncodeSnapshot(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return p.publish(ctx, Subject(s.RoomID, EventSnapshot), data)
}

type closedEvent struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
	TS     int64  `json:"ts"`
}

func (p *Publisher) PublishRoomClosed(ctx context.Context, roomID, reason string, at time.Time) error {
	if p == nil {
		return nil
	}

	data, err := json.Marshal(closedEvent{RoomID: roomID, Reason: reason, TS: at.UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to encode room closed event: %w", err)
	}

	return p.publish(ctx, Subject(roomID, EventClosed), data)
}

func (p *Publisher) publish(ctx context.Context, subject string, data []byte) error {
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.DebugContext(ctx, "event published", "subject", subject, "size", len(data))
	return nil
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}

	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("failed to drain nats connection", "error", err)
		p.nc.Close()
	}
}
