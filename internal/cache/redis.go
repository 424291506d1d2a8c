package cache

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client is nil when Redis is not configured or unreachable. The cache is an
// accelerator only, so its absence never stops the collector.
var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

func InitRedis(ctx context.Context) {
	addr := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if addr == "" {
		log.Warn().Msg("REDIS_URL not set, latest-record cache disabled")
		return
	}

	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			log.Error().Err(err).Msg("failed to parse REDIS_URL, cache disabled")
			return
		}
		opts = parsed
	}
	opts.DialTimeout = 5 * time.Second

	client := newRedisClient(opts)
	if err := pingRedis(ctx, client); err != nil {
		log.Error().Err(err).Str("addr", opts.Addr).Msg("failed to connect to Redis, cache disabled")
		_ = client.Close()
		return
	}
	Client = client
	log.Info().Str("addr", opts.Addr).Msg("connected to Redis")
}
