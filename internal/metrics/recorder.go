package metrics

import (
	"time"

	"onchain-collector/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes collector metrics to Prometheus. A nil *Recorder is a no-op,
// so components can be built without metrics in tests.
type Recorder struct {
	sourceRequests *prometheus.CounterVec
	sourceSkips    *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	assetOutcomes  *prometheus.CounterVec
	violations     *prometheus.CounterVec
	quality        prometheus.Histogram
	cycleDuration  prometheus.Histogram
	published      *prometheus.CounterVec
}

// New registers the collector metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		sourceRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onchain_source_requests_total",
				Help: "Source HTTP attempts by outcome",
			},
			[]string{"source", "outcome"},
		),
		sourceSkips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onchain_source_skips_total",
				Help: "Source calls skipped because the circuit breaker was open",
			},
			[]string{"source"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "onchain_source_breaker_state",
				Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
			},
			[]string{"source"},
		),
		assetOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onchain_asset_outcomes_total",
				Help: "Per-asset pipeline outcomes",
			},
			[]string{"outcome"},
		),
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onchain_validation_violations_total",
				Help: "Validation violations by code",
			},
			[]string{"code"},
		),
		quality: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "onchain_record_quality_score",
			Help:    "Quality score of written records",
			Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "onchain_cycle_duration_seconds",
			Help:    "Duration of collection cycles",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "onchain_records_published_total",
				Help: "Records handed to the downstream topic",
			},
			[]string{"outcome"},
		),
	}
}

func (r *Recorder) SourceRequest(source, outcome string) {
	if r == nil {
		return
	}
	r.sourceRequests.WithLabelValues(source, outcome).Inc()
}

func (r *Recorder) SourceSkipped(source string) {
	if r == nil {
		return
	}
	r.sourceSkips.WithLabelValues(source).Inc()
}

func (r *Recorder) BreakerState(source string, state domain.BreakerState) {
	if r == nil {
		return
	}
	v := 0.0
	switch state {
	case domain.BreakerHalfOpen:
		v = 1
	case domain.BreakerOpen:
		v = 2
	}
	r.breakerState.WithLabelValues(source).Set(v)
}

func (r *Recorder) AssetOutcome(outcome string) {
	if r == nil {
		return
	}
	r.assetOutcomes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) Violation(code string) {
	if r == nil {
		return
	}
	r.violations.WithLabelValues(code).Inc()
}

func (r *Recorder) Quality(score float64) {
	if r == nil {
		return
	}
	r.quality.Observe(score)
}

func (r *Recorder) CycleDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.cycleDuration.Observe(d.Seconds())
}

func (r *Recorder) Published(outcome string) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(outcome).Inc()
}
