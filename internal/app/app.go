package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncserver/internal/auth"
	"github.com/sharetube/syncserver/internal/broadcast"
	"github.com/sharetube/syncserver/internal/controller"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/events"
	"github.com/sharetube/syncserver/internal/metrics"
	"github.com/sharetube/syncserver/internal/registry"
	"github.com/sharetube/syncserver/internal/repository/connection/inmemory"
	roomRepo "github.com/sharetube/syncserver/internal/repository/room"
	roomRedis "github.com/sharetube/syncserver/internal/repository/room/redis"
	"github.com/sharetube/syncserver/internal/service/room"
	"github.com/sharetube/syncserver/pkg/ctxlogger"
	"github.com/sharetube/syncserver/pkg/redisclient"
)

type AppConfig struct {
	Secret            string        `json:"-"`
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	RoomCapacity      int           `json:"room_capacity"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ReconnectGrace    time.Duration `json:"reconnect_grace"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	CoalesceWindow    time.Duration `json:"coalesce_window"`
	BroadcastRate     int           `json:"broadcast_rate"`
	OutboundQueue     int           `json:"outbound_queue"`
	RedisHost         string        `json:"redis_host"`
	RedisPort         int           `json:"redis_port"`
	RedisPassword     string        `json:"-"`
	RedisSnapshotTTL  time.Duration `json:"redis_snapshot_ttl"`
	CatalogSeed       []string      `json:"catalog_seed"`
	NatsURL           string        `json:"nats_url"`
}

// Validate rejects configs the server cannot run with. An empty RedisHost or
// NatsURL disables that integration.
func (cfg *AppConfig) Validate() error {
	var errs []error

	if cfg.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", cfg.Port))
	}
	if cfg.RoomCapacity < 1 {
		errs = append(errs, errors.New("room capacity must be greater than 0"))
	}
	if cfg.BroadcastRate < 1 {
		errs = append(errs, errors.New("broadcast rate must be greater than 0"))
	}
	if cfg.OutboundQueue < 1 {
		errs = append(errs, errors.New("outbound queue must be greater than 0"))
	}

	for name, d := range map[string]time.Duration{
		"heartbeat interval": cfg.HeartbeatInterval,
		"reconnect grace":    cfg.ReconnectGrace,
		"idle timeout":       cfg.IdleTimeout,
		"coalesce window":    cfg.CoalesceWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if cfg.RedisHost != "" && cfg.RedisSnapshotTTL <= 0 {
		errs = append(errs, errors.New("redis snapshot ttl must be positive"))
	}
	if cfg.RedisHost == "" && len(cfg.CatalogSeed) > 0 {
		errs = append(errs, errors.New("catalog seed requires redis"))
	}

	return errors.Join(errs...)
}

func (cfg *AppConfig) roomConfig() domain.Config {
	return domain.Config{
		Capacity:          cfg.RoomCapacity,
		CoalesceWindow:    cfg.CoalesceWindow,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectGrace:    cfg.ReconnectGrace,
	}
}

type presenceRunner interface {
	RunPresence(ctx context.Context)
}

type components struct {
	handler  http.Handler
	presence presenceRunner
	closers  []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// build wires every component. Redis and NATS are only dialed when configured.
func build(ctx context.Context, cfg *AppConfig, clock clockwork.Clock, logger *slog.Logger) (*components, error) {
	c := &components{}

	deps := room.Deps{
		Auth: auth.New(cfg.Secret),
	}

	if cfg.RedisHost != "" {
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		c.closers = append(c.closers, func() { closeRedis(rc, logger) })

		repo := roomRedis.NewRepo(rc, cfg.RedisSnapshotTTL, logger)
		if err := repo.AddContent(ctx, &roomRepo.AddContentParams{ContentIDs: cfg.CatalogSeed}); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to seed content catalog: %w", err)
		}

		deps.RoomRepo = repo
		deps.Catalog = repo
	} else {
		logger.WarnContext(ctx, "redis disabled, snapshots are not persisted and every content id is accepted")
	}

	if cfg.NatsURL != "" {
		publisher, err := events.Connect(events.DefaultConfig(cfg.NatsURL), logger)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("failed to connect event publisher: %w", err)
		}
		c.closers = append(c.closers, publisher.Close)
		deps.Events = publisher
	}

	m := metrics.New()
	connRepo := inmemory.NewRepo(logger)

	deps.Metrics = m
	deps.ConnRepo = connRepo
	deps.Registry = registry.New(cfg.roomConfig(), cfg.IdleTimeout, clock, logger)
	deps.Dispatcher = broadcast.NewDispatcher(connRepo, m, broadcast.Config{
		Rate:  cfg.BroadcastRate,
		Clock: clock,
	}, logger)

	roomService := room.NewService(deps, &room.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		CoalesceWindow:    cfg.CoalesceWindow,
		Clock:             clock,
	}, logger)
	c.presence = roomService

	ctrlCfg := controller.DefaultConfig()
	ctrlCfg.OutboundQueue = cfg.OutboundQueue
	ctrlCfg.Clock = clock
	c.handler = controller.NewController(roomService, m.Handler(), ctrlCfg, logger).GetMux()

	return c, nil
}

func closeRedis(rc *redis.Client, logger *slog.Logger) {
	if err := rc.Close(); err != nil {
		logger.Warn("failed to close redis client", "error", err)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h), nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	c, err := build(ctx, cfg, clockwork.NewRealClock(), logger)
	if err != nil {
		return err
	}
	defer c.close()

	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: c.handler}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	go c.presence.RunPresence(serverCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down server", "error", err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}
