// Package collector runs collection cycles: for every active asset it gathers
// candidates from the live sources, fills gaps with estimates, fuses, scores,
// validates and writes one record.
package collector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/estimate"
	"onchain-collector/internal/fusion"
	"onchain-collector/internal/metrics"
	"onchain-collector/internal/quality"
	"onchain-collector/internal/validate"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrAssetAbandoned marks an asset whose pipeline ran out of time. Nothing is
// written for it in that cycle.
var ErrAssetAbandoned = errors.New("asset pipeline abandoned")

// Source is one live data source.
type Source interface {
	ID() string
	Tier() domain.SourceTier
	Supports(asset domain.Asset) bool
	// Available is false while the source's breaker rejects calls.
	Available() bool
	// Fetch never fails; a failing source yields no candidates.
	Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate
}

// Store persists fused records.
type Store interface {
	Upsert(ctx context.Context, rec domain.MetricRecord) (domain.MetricRecord, error)
	// Amend rewrites provenance and violations of a stored row; the quality
	// score may only go down.
	Amend(ctx context.Context, rec domain.MetricRecord) (domain.MetricRecord, error)
	LatestBlockHeight(ctx context.Context, symbol string) (*int64, error)
}

type Config struct {
	Concurrency  int
	AssetTimeout time.Duration
	CycleTimeout time.Duration
	Granularity  time.Duration
}

type Orchestrator struct {
	tracer    trace.Tracer
	sources   []Source
	estimator *estimate.Estimator
	engine    *fusion.Engine
	scorer    *quality.Scorer
	validator *validate.Validator
	store     Store
	metrics   *metrics.Recorder
	cfg       Config
	now       func() time.Time
}

func NewOrchestrator(
	tracer trace.Tracer,
	sources []Source,
	estimator *estimate.Estimator,
	engine *fusion.Engine,
	scorer *quality.Scorer,
	validator *validate.Validator,
	store Store,
	rec *metrics.Recorder,
	cfg Config,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AssetTimeout <= 0 {
		cfg.AssetTimeout = 60 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 10 * time.Minute
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = time.Hour
	}
	if estimator == nil {
		estimator = estimate.New(nil)
	}
	if validator == nil {
		validator = validate.New()
	}
	return &Orchestrator{
		tracer:    tracer,
		sources:   sources,
		estimator: estimator,
		engine:    engine,
		scorer:    scorer,
		validator: validator,
		store:     store,
		metrics:   rec,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sources returns the configured live sources.
func (o *Orchestrator) Sources() []Source {
	return append([]Source(nil), o.sources...)
}

// RunCycle processes assets under the concurrency limit and cycle deadline.
// Per-asset problems are counted and reported in the result; they never stop
// the other assets.
func (o *Orchestrator) RunCycle(ctx context.Context, assets []domain.Asset) domain.CycleResult {
	ctx, span := o.tracer.Start(ctx, "collector.run-cycle")
	defer span.End()

	started := o.now().UTC()
	result := domain.CycleResult{
		CycleID:   uuid.NewString(),
		Bucket:    domain.BucketTime(started, o.cfg.Granularity),
		StartedAt: started,
		Assets:    len(assets),
	}
	span.SetAttributes(attribute.String("cycle_id", result.CycleID), attribute.Int("assets", len(assets)))
	logger := log.With().Str("cycle_id", result.CycleID).Logger()

	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.CycleTimeout)
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)

	for _, asset := range assets {
		if cycleCtx.Err() != nil {
			mu.Lock()
			result.Abandoned++
			result.Errors = append(result.Errors, asset.Symbol+": "+ErrAssetAbandoned.Error())
			mu.Unlock()
			o.metrics.AssetOutcome("abandoned")
			continue
		}
		g.Go(func() error {
			out := o.runAsset(cycleCtx, result.Bucket, asset)

			mu.Lock()
			defer mu.Unlock()
			result.SourceSkips += out.skipped
			switch {
			case errors.Is(out.err, ErrAssetAbandoned):
				result.Abandoned++
				o.metrics.AssetOutcome("abandoned")
				logger.Warn().Str("symbol", asset.Symbol).Msg("asset abandoned, nothing written")
			case out.err != nil:
				result.Failed++
				o.metrics.AssetOutcome("failed")
				logger.Error().Err(out.err).Str("symbol", asset.Symbol).Msg("asset pipeline failed")
			case len(out.violations) > 0:
				result.Written++
				result.Flagged++
				result.Records = append(result.Records, out.record)
				o.metrics.AssetOutcome("flagged")
			default:
				result.Written++
				result.Records = append(result.Records, out.record)
				o.metrics.AssetOutcome("written")
			}
			if out.err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", asset.Symbol, out.err))
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = o.now().UTC().Sub(started)
	o.metrics.CycleDuration(result.Duration)
	logger.Info().
		Int("assets", result.Assets).
		Int("written", result.Written).
		Int("flagged", result.Flagged).
		Int("abandoned", result.Abandoned).
		Int("failed", result.Failed).
		Int("source_skips", result.SourceSkips).
		Dur("duration", result.Duration).
		Msg("collection cycle complete")
	return result
}

type assetOutcome struct {
	record     domain.MetricRecord
	violations []validate.Violation
	skipped    int
	err        error
}

func (o *Orchestrator) runAsset(ctx context.Context, bucket time.Time, asset domain.Asset) assetOutcome {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.AssetTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "collector.run-asset")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", asset.Symbol))

	var out assetOutcome
	candidates, skipped := o.gather(ctx, asset)
	out.skipped = skipped
	if ctx.Err() != nil {
		out.err = fmt.Errorf("%w: %v", ErrAssetAbandoned, ctx.Err())
		return out
	}

	candidates = append(candidates, o.estimator.Estimate(asset, fusion.LiveFields(asset, candidates))...)
	rec, prov := o.engine.Fuse(asset, candidates)
	rec.Timestamp = bucket
	rec.QualityScore = o.scorer.Score(prov)

	prev, err := o.store.LatestBlockHeight(ctx, asset.Symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", asset.Symbol).Msg("previous block height unavailable")
		prev = nil
	}
	out.violations = o.validator.Validate(rec, prev)
	rec.Violations = validate.Codes(out.violations)
	if len(out.violations) > 0 {
		rec.QualityScore = o.scorer.Cap(rec.QualityScore)
		for _, v := range out.violations {
			o.metrics.Violation(v.Code)
			log.Warn().Str("symbol", asset.Symbol).Str("code", v.Code).Msg(v.Message)
		}
	}

	if ctx.Err() != nil {
		out.err = fmt.Errorf("%w: %v", ErrAssetAbandoned, ctx.Err())
		return out
	}
	stored, err := o.store.Upsert(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			out.err = fmt.Errorf("%w: %v", ErrAssetAbandoned, ctx.Err())
			return out
		}
		out.err = fmt.Errorf("upsert %s: %w", asset.Symbol, err)
		return out
	}

	stored, merged, err := o.reconcile(ctx, stored)
	for _, v := range merged {
		o.metrics.Violation(v.Code)
		log.Warn().Str("symbol", asset.Symbol).Str("code", v.Code).Msg("stored row: " + v.Message)
	}
	out.violations = append(out.violations, merged...)
	if err != nil {
		if ctx.Err() != nil {
			out.err = fmt.Errorf("%w: %v", ErrAssetAbandoned, ctx.Err())
			return out
		}
		out.err = fmt.Errorf("amend %s: %w", asset.Symbol, err)
		return out
	}
	o.metrics.Quality(stored.QualityScore)
	log.Debug().
		Str("symbol", asset.Symbol).
		Str("data_sources", stored.DataSources).
		Float64("quality_score", stored.QualityScore).
		Strs("estimated_fields", stored.EstimatedFields).
		Msg("record written")
	out.record = stored
	return out
}

// reconcile checks the row as merged with earlier writes to the same bucket.
// Values kept from those writes can break an invariant the incoming record
// alone did not; such a row is flagged and capped like any other. Provenance
// is put back into trust order. It returns the violations found only on the
// merged row.
func (o *Orchestrator) reconcile(ctx context.Context, stored domain.MetricRecord) (domain.MetricRecord, []validate.Violation, error) {
	codes := append([]string{}, stored.Violations...)
	var found []validate.Violation
	for _, v := range o.validator.Validate(stored, nil) {
		if !slices.Contains(codes, v.Code) {
			codes = append(codes, v.Code)
			found = append(found, v)
		}
	}

	want := stored
	want.Violations = codes
	if live := stored.Sources(); len(live) > 0 {
		want.DataSources = strings.Join(o.engine.SortSources(live), ",")
	}
	if len(codes) > 0 {
		want.QualityScore = o.scorer.Cap(stored.QualityScore)
	}
	if len(found) == 0 && want.DataSources == stored.DataSources && want.QualityScore == stored.QualityScore {
		return stored, nil, nil
	}

	amended, err := o.store.Amend(ctx, want)
	if err != nil {
		return stored, found, err
	}
	return amended, found, nil
}

// gather fetches from every applicable source concurrently. Sources whose
// breaker is open are skipped without a call.
func (o *Orchestrator) gather(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, int) {
	var (
		mu         sync.Mutex
		candidates []domain.FieldCandidate
		skipped    int
		wg         sync.WaitGroup
	)
	for _, src := range o.sources {
		if !src.Supports(asset) {
			continue
		}
		if !src.Available() {
			skipped++
			o.metrics.SourceSkipped(src.ID())
			log.Info().Str("source", src.ID()).Str("symbol", asset.Symbol).Msg("source unavailable this cycle")
			continue
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			got := src.Fetch(ctx, asset)
			mu.Lock()
			candidates = append(candidates, got...)
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return candidates, skipped
}
