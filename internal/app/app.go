// Package app assembles the collector from configuration. Both binaries use
// it so a scheduled one-shot run and the long-running server behave the same.
package app

import (
	"net/http"

	"onchain-collector/internal/cache"
	"onchain-collector/internal/collector"
	"onchain-collector/internal/config"
	"onchain-collector/internal/estimate"
	"onchain-collector/internal/fusion"
	"onchain-collector/internal/metrics"
	"onchain-collector/internal/provider"
	"onchain-collector/internal/publish"
	"onchain-collector/internal/quality"
	"onchain-collector/internal/repository"
	"onchain-collector/internal/service"
	"onchain-collector/internal/validate"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Deps are the shared connections. Pool and Redis may be nil.
type Deps struct {
	Tracer     trace.Tracer
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

type App struct {
	Collection   *service.CollectionService
	Orchestrator *collector.Orchestrator
	Sources      []provider.Source
	publisher    *publish.Publisher
}

func Build(cfg *config.Config, deps Deps) *App {
	rec := metrics.New(deps.Registerer)
	sources := provider.BuildSources(deps.Tracer, cfg, rec, deps.HTTPClient)

	var (
		store    collectorStore
		registry service.AssetRegistry
	)
	if deps.Pool != nil {
		store = repository.NewMetricsRepository(deps.Pool, deps.Tracer, cfg.QualityPolicy)
		registry = repository.NewAssetRepository(deps.Pool, deps.Tracer)
	} else {
		log.Warn().Msg("no database configured: using in-memory store and the default asset registry")
		store = repository.NewMemoryMetricsRepository(cfg.QualityPolicy)
		registry = repository.NewStaticAssetRegistry(nil)
	}

	live := make([]collector.Source, 0, len(sources))
	health := make([]service.HealthReporter, 0, len(sources))
	for _, s := range sources {
		live = append(live, s)
		health = append(health, s)
	}

	orch := collector.NewOrchestrator(
		deps.Tracer,
		live,
		estimate.New(nil),
		fusion.NewEngine(cfg.TrustOrder),
		quality.NewScorer(cfg.Quality, provider.Tiers(sources)),
		validate.New(),
		store,
		rec,
		collector.Config{
			Concurrency:  cfg.CollectConcurrency,
			AssetTimeout: cfg.AssetTimeout(),
			CycleTimeout: cfg.CycleTimeout(),
			Granularity:  cfg.Granularity(),
		},
	)

	a := &App{Orchestrator: orch, Sources: sources}

	var latest service.LatestCache
	if deps.Redis != nil {
		latest = cache.NewRecordCache(deps.Redis, deps.Tracer, cfg.CacheTTL())
	}
	var feed service.RecordPublisher
	if p := publish.NewPublisher(publish.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, deps.Tracer, rec); p != nil {
		a.publisher = p
		feed = p
	}

	a.Collection = service.NewCollectionService(deps.Tracer, registry, orch, store, latest, feed, health, cfg.Retention())
	return a
}

// collectorStore is what both the orchestrator and the service need from
// the metrics table.
type collectorStore interface {
	collector.Store
	service.MetricsStore
}

// Close flushes the record feed.
func (a *App) Close() {
	if err := a.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("closing record feed")
	}
}
