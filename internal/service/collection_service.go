package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"onchain-collector/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrCollectionRunning is returned when a cycle is requested while another
// one is still in flight.
var ErrCollectionRunning = errors.New("a collection cycle is already running")

type AssetRegistry interface {
	ListActive(ctx context.Context) ([]domain.Asset, error)
}

type CycleRunner interface {
	RunCycle(ctx context.Context, assets []domain.Asset) domain.CycleResult
}

type MetricsStore interface {
	LatestBySymbol(ctx context.Context, symbol string) (*domain.MetricRecord, error)
	History(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.MetricRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type LatestCache interface {
	Get(ctx context.Context, symbol string) (*domain.MetricRecord, error)
	SetLatest(ctx context.Context, records []domain.MetricRecord) error
}

type RecordPublisher interface {
	Publish(ctx context.Context, cycleID string, records []domain.MetricRecord) error
}

type HealthReporter interface {
	Health() domain.SourceHealth
}

// CollectionService runs cycles on demand and serves what they stored.
// The cache and publisher are optional.
type CollectionService struct {
	tracer    trace.Tracer
	registry  AssetRegistry
	runner    CycleRunner
	store     MetricsStore
	cache     LatestCache
	publisher RecordPublisher
	sources   []HealthReporter
	retention time.Duration
	now       func() time.Time

	running sync.Mutex
	mu      sync.RWMutex
	last    *domain.CycleResult
}

func NewCollectionService(
	tracer trace.Tracer,
	registry AssetRegistry,
	runner CycleRunner,
	store MetricsStore,
	cache LatestCache,
	publisher RecordPublisher,
	sources []HealthReporter,
	retention time.Duration,
) *CollectionService {
	return &CollectionService{
		tracer:    tracer,
		registry:  registry,
		runner:    runner,
		store:     store,
		cache:     cache,
		publisher: publisher,
		sources:   sources,
		retention: retention,
		now:       time.Now,
	}
}

// RunCollection reads the registry and runs one cycle over every active
// asset. Only a registry failure is returned as an error; cache, feed and
// retention problems are appended to the result.
func (s *CollectionService) RunCollection(ctx context.Context) (domain.CycleResult, error) {
	ctx, span := s.tracer.Start(ctx, "collection-service.run")
	defer span.End()

	if !s.running.TryLock() {
		return domain.CycleResult{}, ErrCollectionRunning
	}
	defer s.running.Unlock()

	assets, err := s.registry.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.CycleResult{}, fmt.Errorf("load asset registry: %w", err)
	}
	if len(assets) == 0 {
		log.Warn().Msg("asset registry is empty, nothing to collect")
	}

	result := s.runner.RunCycle(ctx, assets)
	span.SetAttributes(attribute.String("cycle_id", result.CycleID), attribute.Int("written", result.Written))

	if len(result.Records) > 0 {
		if s.cache != nil {
			if err := s.cache.SetLatest(ctx, result.Records); err != nil {
				log.Warn().Err(err).Str("cycle_id", result.CycleID).Msg("latest cache update failed")
				result.Errors = append(result.Errors, "cache: "+err.Error())
			}
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, result.CycleID, result.Records); err != nil {
				log.Warn().Err(err).Str("cycle_id", result.CycleID).Msg("record feed publish failed")
				result.Errors = append(result.Errors, "publish: "+err.Error())
			}
		}
	}

	if s.retention > 0 {
		cutoff := s.now().UTC().Add(-s.retention)
		n, err := s.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Time("cutoff", cutoff).Msg("retention cleanup failed")
			result.Errors = append(result.Errors, "retention: "+err.Error())
		} else if n > 0 {
			log.Info().Int64("rows", n).Time("cutoff", cutoff).Msg("removed expired records")
		}
	}

	s.mu.Lock()
	last := result
	s.last = &last
	s.mu.Unlock()
	return result, nil
}

// LastCycle returns the result of the most recent cycle, if any.
func (s *CollectionService) LastCycle() *domain.CycleResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	c := *s.last
	return &c
}

// GetLatest returns the newest record for symbol, from the cache when
// possible. It returns nil when nothing has been stored yet.
func (s *CollectionService) GetLatest(ctx context.Context, symbol string) (*domain.MetricRecord, error) {
	ctx, span := s.tracer.Start(ctx, "collection-service.get-latest")
	defer span.End()

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("latest cache read failed")
		}
		if cached != nil {
			return cached, nil
		}
	}

	rec, err := s.store.LatestBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load latest %s: %w", symbol, err)
	}
	if rec != nil && s.cache != nil {
		if err := s.cache.SetLatest(ctx, []domain.MetricRecord{*rec}); err != nil {
			log.Debug().Err(err).Str("symbol", symbol).Msg("latest cache refill failed")
		}
	}
	return rec, nil
}

// History returns stored records for symbol between from and to, newest first.
func (s *CollectionService) History(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.MetricRecord, error) {
	ctx, span := s.tracer.Start(ctx, "collection-service.history")
	defer span.End()

	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is before %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-7 * 24 * time.Hour)
	}
	return s.store.History(ctx, strings.ToUpper(strings.TrimSpace(symbol)), from, to, limit)
}

// SourceHealth reports the breaker state of every live source.
func (s *CollectionService) SourceHealth() []domain.SourceHealth {
	out := make([]domain.SourceHealth, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.Health())
	}
	return out
}
