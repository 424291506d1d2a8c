package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"onchain-collector/internal/app"
	"onchain-collector/internal/cache"
	"onchain-collector/internal/config"
	"onchain-collector/internal/db"
	"onchain-collector/internal/handler"
	"onchain-collector/internal/job"
	"onchain-collector/pkg/logging"
	"onchain-collector/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "onchain-collector/docs"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initPostgresFunc = db.InitPostgres
	closePostgres    = db.Close
	initRedisFunc    = cache.InitRedis
	initTracerFunc   = tracing.InitTracer
	newRegistryFunc  = func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		return reg
	}
	startCollectJobFunc    = func(j *job.CollectJob, ctx context.Context) { go j.Start(ctx) }
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	fatalFunc              = func(err error) { log.Fatal().Err(err).Msg("server stopped") }
)

// @title           On-chain Collector API
// @version         1.0
// @description     Multi-source on-chain metric collection with fusion and quality scoring.

// @host      localhost:8080
// @BasePath  /
func main() {
	_ = loadEnvFunc()

	cfg, err := loadConfigFunc()
	if err != nil {
		logging.Init("info", "json")
		fatalFunc(err)
		return
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	defer closePostgres()
	initRedisFunc(ctx)

	tp, tracer, err := initTracerFunc(ctx, "server")
	if err != nil {
		fatalFunc(fmt.Errorf("initialize tracer: %w", err))
		return
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	reg := newRegistryFunc()
	a := app.Build(cfg, app.Deps{
		Tracer:     tracer,
		Pool:       db.Pool,
		Redis:      cache.Client,
		Registerer: reg,
	})
	defer a.Close()

	if cfg.CollectSchedule != "" {
		collectJob, err := job.NewCollectJob(tracer, a.Collection, cfg.CollectSchedule, true)
		if err != nil {
			fatalFunc(err)
			return
		}
		startCollectJobFunc(collectJob, ctx)
	} else {
		log.Info().Msg("COLLECT_SCHEDULE not set, cycles run only on request")
	}

	r := newRouterFunc()
	r.Use(gin.Recovery(), handler.RequestLogger(), otelgin.Middleware(tracing.ServiceName))

	handler.New(tracer, a.Collection, reg, cfg.APIKey).RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalFunc(fmt.Errorf("listen: %w", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exiting")
}
