// Command collect runs a single collection cycle and exits. It is meant to be
// started by an external scheduler. Per-asset failures never change the exit
// status: 1 means the asset registry could not be read, 2 a startup failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"onchain-collector/internal/app"
	"onchain-collector/internal/cache"
	"onchain-collector/internal/config"
	"onchain-collector/internal/db"
	"onchain-collector/pkg/logging"
	"onchain-collector/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	closePostgres    = db.Close
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	exitFunc         = os.Exit
)

func main() {
	exitFunc(run())
}

func run() int {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		logging.Init("info", "json")
		log.Error().Err(err).Msg("invalid configuration")
		return 2
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	defer closePostgres()
	initRedisFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx, "collect")
	if err != nil {
		log.Error().Err(fmt.Errorf("initialize tracer: %w", err)).Msg("startup failed")
		return 2
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	a := app.Build(cfg, app.Deps{
		Tracer:     tracer,
		Pool:       db.Pool,
		Redis:      cache.Client,
		Registerer: prometheus.NewRegistry(),
	})
	defer a.Close()

	result, err := a.Collection.RunCollection(ctx)
	if err != nil {
		log.Error().Err(err).Msg("collection aborted")
		return 1
	}
	for _, e := range result.Errors {
		log.Warn().Str("cycle_id", result.CycleID).Msg(e)
	}
	return 0
}
