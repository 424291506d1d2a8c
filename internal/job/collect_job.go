package job

import (
	"context"
	"fmt"
	"time"

	"onchain-collector/internal/domain"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type CollectionRunner interface {
	RunCollection(ctx context.Context) (domain.CycleResult, error)
}

// CollectJob triggers collection cycles on a cron schedule. A run that is
// still going when the next tick fires makes that tick a no-op.
type CollectJob struct {
	tracer     trace.Tracer
	runner     CollectionRunner
	schedule   cron.Schedule
	spec       string
	runOnStart bool
}

// NewCollectJob parses spec as a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func NewCollectJob(tracer trace.Tracer, runner CollectionRunner, spec string, runOnStart bool) (*CollectJob, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid collect schedule %q: %w", spec, err)
	}
	return &CollectJob{
		tracer:     tracer,
		runner:     runner,
		schedule:   schedule,
		spec:       spec,
		runOnStart: runOnStart,
	}, nil
}

// Next returns the first trigger time after t.
func (j *CollectJob) Next(t time.Time) time.Time {
	return j.schedule.Next(t.UTC())
}

// Start blocks until ctx is cancelled, then waits for a running cycle to end.
func (j *CollectJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Info().Msg("collect job disabled: no runner")
		<-ctx.Done()
		return
	}

	logger := cronLogger{log.With().Str("component", "collect-job").Logger()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(j.schedule, cron.FuncJob(func() { j.runOnce(ctx) }))

	if j.runOnStart {
		go j.runOnce(ctx)
	}
	c.Start()
	log.Info().Str("schedule", j.spec).Time("next", j.Next(time.Now())).Msg("collect job started")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("collect job stopped")
}

func (j *CollectJob) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, span := j.tracer.Start(ctx, "collect-job.run-once")
	defer span.End()

	result, err := j.runner.RunCollection(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduled collection failed")
		return
	}
	log.Info().
		Str("cycle_id", result.CycleID).
		Int("written", result.Written).
		Int("abandoned", result.Abandoned).
		Int("failed", result.Failed).
		Int("warnings", len(result.Errors)).
		Msg("scheduled collection complete")
}

// cronLogger routes the scheduler's own messages through zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
