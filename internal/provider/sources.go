package provider

import (
	"context"
	"net/http"

	"onchain-collector/internal/config"
	"onchain-collector/internal/domain"
	"onchain-collector/internal/metrics"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Source is a live data source with its resilience state.
type Source interface {
	ID() string
	Tier() domain.SourceTier
	Supports(asset domain.Asset) bool
	Available() bool
	Health() domain.SourceHealth
	Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate
}

// BuildSources creates every enabled source from cfg. All sources share one
// rate limiter; each gets its own breaker. client may be nil.
func BuildSources(tracer trace.Tracer, cfg *config.Config, rec *metrics.Recorder, client *http.Client) []Source {
	limiter := NewRateLimiter(0)

	requester := func(id string, tier domain.SourceTier) *Requester {
		sc := cfg.Source(id)
		return NewRequester(RequesterConfig{
			Source:           id,
			Tier:             tier,
			MinInterval:      sc.MinInterval(),
			Timeout:          sc.Timeout(),
			FailureThreshold: sc.FailureThreshold,
			RecoveryTimeout:  sc.RecoveryTimeout(),
			Retry: RetryPolicy{
				MaxRetries:     sc.MaxRetries,
				InitialBackoff: sc.InitialBackoff(),
				MaxBackoff:     sc.MaxBackoff(),
				Multiplier:     2,
				Jitter:         0.5,
			},
			HTTPClient: client,
		}, limiter, rec)
	}

	var out []Source
	for _, id := range config.SourceIDs {
		sc := cfg.Source(id)
		if sc.Disabled {
			log.Info().Str("source", id).Msg("source disabled by configuration")
			continue
		}
		switch id {
		case SourceCoinGecko:
			out = append(out, NewCoinGeckoSource(tracer, requester(id, CoinGeckoTier(cfg.CoinGeckoAPIKey)), sc.BaseURL, cfg.CoinGeckoAPIKey))
		case SourceMempool:
			out = append(out, NewMempoolSource(tracer, requester(id, domain.SourceTierFree), sc.BaseURL))
		case SourceBlockscout:
			out = append(out, NewBlockscoutSource(tracer, requester(id, domain.SourceTierFree), sc.BaseURL))
		case SourceKoios:
			out = append(out, NewKoiosSource(tracer, requester(id, domain.SourceTierFree), sc.BaseURL))
		case SourceCoinMetrics:
			out = append(out, NewCoinMetricsSource(tracer, requester(id, domain.SourceTierFree), sc.BaseURL))
		case SourceDefiLlama:
			out = append(out, NewDefiLlamaSource(tracer, requester(id, domain.SourceTierFree), sc.BaseURL, cfg.DefiLlamaSnapshotTTL()))
		}
	}
	return out
}

// Tiers maps source ids to their tier.
func Tiers(sources []Source) map[string]domain.SourceTier {
	out := make(map[string]domain.SourceTier, len(sources))
	for _, s := range sources {
		out[s.ID()] = s.Tier()
	}
	return out
}
