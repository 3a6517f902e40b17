package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/syncserver/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

func (v configVar[T]) bind() {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

var (
	secret = configVar[string]{
		envKey:  "SERVER_SECRET",
		flagKey: "secret",
		usage:   "Shared secret used to verify client tokens",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
		usage:        "Server port",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	roomCapacity = configVar[int]{
		envKey:       "SERVER_ROOM_CAPACITY",
		flagKey:      "room-capacity",
		defaultValue: 9,
		usage:        "Maximum number of participants in a room",
	}
	heartbeatInterval = configVar[time.Duration]{
		envKey:       "SERVER_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 5 * time.Second,
		usage:        "Expected client heartbeat interval; three missed heartbeats disconnect",
	}
	reconnectGrace = configVar[time.Duration]{
		envKey:       "SERVER_RECONNECT_GRACE",
		flagKey:      "reconnect-grace",
		defaultValue: 60 * time.Second,
		usage:        "How long a disconnected participant keeps its place",
	}
	idleTimeout = configVar[time.Duration]{
		envKey:       "SERVER_IDLE_TIMEOUT",
		flagKey:      "idle-timeout",
		defaultValue: 10 * time.Minute,
		usage:        "Idle time after which a room is evicted from memory",
	}
	coalesceWindow = configVar[time.Duration]{
		envKey:       "SERVER_COALESCE_WINDOW",
		flagKey:      "coalesce-window",
		defaultValue: 250 * time.Millisecond,
		usage:        "Window in which control commands of different clients count as concurrent",
	}
	broadcastRate = configVar[int]{
		envKey:       "SERVER_BROADCAST_RATE",
		flagKey:      "broadcast-rate",
		defaultValue: 10,
		usage:        "Maximum snapshots per room per second",
	}
	outboundQueue = configVar[int]{
		envKey:       "SERVER_OUTBOUND_QUEUE",
		flagKey:      "outbound-queue",
		defaultValue: 64,
		usage:        "Outbound messages buffered per connection",
	}
	redisHost = configVar[string]{
		envKey:  "REDIS_HOST",
		flagKey: "redis-host",
		usage:   "Redis host, empty disables persistence",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisPassword = configVar[string]{
		envKey:  "REDIS_PASSWORD",
		flagKey: "redis-password",
		usage:   "Redis password",
	}
	redisSnapshotTTL = configVar[time.Duration]{
		envKey:       "REDIS_SNAPSHOT_TTL",
		flagKey:      "redis-snapshot-ttl",
		defaultValue: 24 * time.Hour,
		usage:        "Lifetime of persisted room snapshots",
	}
	catalogSeed = configVar[[]string]{
		envKey:  "REDIS_CATALOG_SEED",
		flagKey: "catalog-seed",
		usage:   "Content ids added to the catalog at startup",
	}
	natsURL = configVar[string]{
		envKey:  "NATS_URL",
		flagKey: "nats-url",
		usage:   "NATS url for the room event feed, empty disables it",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(secret.flagKey, secret.defaultValue, secret.usage)
	pflag.String(host.flagKey, host.defaultValue, host.usage)
	pflag.Int(port.flagKey, port.defaultValue, port.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.Int(roomCapacity.flagKey, roomCapacity.defaultValue, roomCapacity.usage)
	pflag.Duration(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, heartbeatInterval.usage)
	pflag.Duration(reconnectGrace.flagKey, reconnectGrace.defaultValue, reconnectGrace.usage)
	pflag.Duration(idleTimeout.flagKey, idleTimeout.defaultValue, idleTimeout.usage)
	pflag.Duration(coalesceWindow.flagKey, coalesceWindow.defaultValue, coalesceWindow.usage)
	pflag.Int(broadcastRate.flagKey, broadcastRate.defaultValue, broadcastRate.usage)
	pflag.Int(outboundQueue.flagKey, outboundQueue.defaultValue, outboundQueue.usage)
	pflag.String(redisHost.flagKey, redisHost.defaultValue, redisHost.usage)
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, redisPort.usage)
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, redisPassword.usage)
	pflag.Duration(redisSnapshotTTL.flagKey, redisSnapshotTTL.defaultValue, redisSnapshotTTL.usage)
	pflag.StringSlice(catalogSeed.flagKey, catalogSeed.defaultValue, catalogSeed.usage)
	pflag.String(natsURL.flagKey, natsURL.defaultValue, natsURL.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	secret.bind()
	host.bind()
	port.bind()
	logLevel.bind()
	roomCapacity.bind()
	heartbeatInterval.bind()
	reconnectGrace.bind()
	idleTimeout.bind()
	coalesceWindow.bind()
	broadcastRate.bind()
	outboundQueue.bind()
	redisHost.bind()
	redisPort.bind()
	redisPassword.bind()
	redisSnapshotTTL.bind()
	catalogSeed.bind()
	natsURL.bind()

	return &app.AppConfig{
		Secret:            viper.GetString(secret.flagKey),
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		RoomCapacity:      viper.GetInt(roomCapacity.flagKey),
		HeartbeatInterval: viper.GetDuration(heartbeatInterval.flagKey),
		ReconnectGrace:    viper.GetDuration(reconnectGrace.flagKey),
		IdleTimeout:       viper.GetDuration(idleTimeout.flagKey),
		CoalesceWindow:    viper.GetDuration(coalesceWindow.flagKey),
		BroadcastRate:     viper.GetInt(broadcastRate.flagKey),
		OutboundQueue:     viper.GetInt(outboundQueue.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
		RedisSnapshotTTL:  viper.GetDuration(redisSnapshotTTL.flagKey),
		CatalogSeed:       viper.GetStringSlice(catalogSeed.flagKey),
		NatsURL:           viper.GetString(natsURL.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
