package redis

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
	saveScript     *redis.Script
	logger         *slog.Logger
}

func NewRepo(rc *redis.Client, expireDuration time.Duration, logger *slog.Logger) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
		// revision compare-and-set: an older snapshot never overwrites a newer one
		saveScript: redis.NewScript(`
			local current = tonumber(redis.call('HGET', KEYS[1], 'revision') or '0')
			local revision = tonumber(ARGV[1])
			if revision < current then
				return 0
			end
			redis.call('HSET', KEYS[1],
				'revision', ARGV[1],
				'content_id', ARGV[2],
				'position', ARGV[3],
				'is_playing', ARGV[4],
				'updated_at', ARGV[5],
				'host', ARGV[6])
			redis.call('PEXPIRE', KEYS[1], ARGV[7])
			return 1
		`),
		logger: logger,
	}
}
