// Package quality turns provenance into a confidence score in [0,1].
package quality

import (
	"math"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/fusion"

	"github.com/creasty/defaults"
)

// Config holds the scoring constants.
type Config struct {
	PremiumBase      float64 `yaml:"premium_base" default:"0.95" validate:"gte=0,lte=1"`
	FreeBase         float64 `yaml:"free_base" default:"0.8" validate:"gte=0,lte=1"`
	NoneBase         float64 `yaml:"none_base" default:"0.7" validate:"gte=0,lte=1"`
	MultiSourceBonus float64 `yaml:"multi_source_bonus" default:"0.05" validate:"gte=0,lte=1"`
	MultiSourceMin   int     `yaml:"multi_source_min" default:"3" validate:"gte=1"`
	EstimatePenalty  float64 `yaml:"estimate_penalty" default:"0.1" validate:"gte=0,lte=1"`
	InvalidCap       float64 `yaml:"invalid_cap" default:"0.5" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the constants from the struct tags.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(err)
	}
	return cfg
}

type Scorer struct {
	cfg   Config
	tiers map[string]domain.SourceTier
}

// NewScorer builds a scorer. tiers maps source ids to their tier; sources
// missing from the map count as neither premium nor free.
func NewScorer(cfg Config, tiers map[string]domain.SourceTier) *Scorer {
	if cfg.MultiSourceMin <= 0 {
		cfg.MultiSourceMin = 3
	}
	t := make(map[string]domain.SourceTier, len(tiers))
	for k, v := range tiers {
		t[k] = v
	}
	return &Scorer{cfg: cfg, tiers: t}
}

// Score is deterministic and performs no I/O.
func (s *Scorer) Score(prov fusion.Provenance) float64 {
	var premium, free bool
	for _, src := range prov.Sources {
		switch s.tiers[src] {
		case domain.SourceTierPremium:
			premium = true
		case domain.SourceTierFree:
			free = true
		}
	}
	base := s.cfg.NoneBase
	switch {
	case premium:
		base = s.cfg.PremiumBase
	case free:
		base = s.cfg.FreeBase
	}

	score := base
	if len(prov.Sources) >= s.cfg.MultiSourceMin {
		score = math.Min(1, score+s.cfg.MultiSourceBonus)
	}
	if prov.UsedEstimates() {
		score = math.Max(0, score-s.cfg.EstimatePenalty)
	}
	return Round(clamp(score))
}

// Cap lowers score to the invalid-record ceiling.
func (s *Scorer) Cap(score float64) float64 {
	return Round(math.Min(clamp(score), s.cfg.InvalidCap))
}

// Round keeps four decimals, matching the storage column.
func Round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
