// Package estimate fills gaps left by live sources with heuristic values
// derived from network class and market tier. Every value it produces is
// flagged as an estimate.
package estimate

import (
	"strings"

	"onchain-collector/internal/domain"
)

// EstimableFields are the fields the estimator knows how to approximate.
var EstimableFields = []domain.Field{
	domain.FieldInflationRate,
	domain.FieldBlockTime,
	domain.FieldTransactionCount,
	domain.FieldStakingYield,
	domain.FieldStakedPercentage,
	domain.FieldValidatorCount,
}

type Estimator struct {
	enabled map[domain.Field]bool
}

// New returns an estimator restricted to fields. An empty list enables every
// estimable field; fields outside EstimableFields are ignored.
func New(fields []domain.Field) *Estimator {
	if len(fields) == 0 {
		fields = EstimableFields
	}
	supported := make(map[domain.Field]bool, len(EstimableFields))
	for _, f := range EstimableFields {
		supported[f] = true
	}
	enabled := make(map[domain.Field]bool, len(fields))
	for _, f := range fields {
		if supported[f] {
			enabled[f] = true
		}
	}
	return &Estimator{enabled: enabled}
}

// Estimate returns candidates for enabled fields that apply to the asset and
// are not already known from a live source.
func (e *Estimator) Estimate(asset domain.Asset, known map[domain.Field]bool) []domain.FieldCandidate {
	symbol := strings.ToUpper(asset.Symbol)
	var out []domain.FieldCandidate
	add := func(f domain.Field, v float64) {
		if !e.enabled[f] || known[f] || !f.AppliesTo(asset.Network) {
			return
		}
		out = append(out, domain.FieldCandidate{
			Field:      f,
			Value:      v,
			Source:     domain.EstimatorSource,
			IsEstimate: true,
		})
	}

	if v, ok := lookup(inflationBySymbol, inflationByClass, symbol, asset.Network); ok {
		add(domain.FieldInflationRate, v)
	}
	if v, ok := lookup(blockTimeBySymbol, blockTimeByClass, symbol, asset.Network); ok {
		add(domain.FieldBlockTime, v)
	}
	add(domain.FieldTransactionCount, dailyTransactionsByTier[asset.Tier()])

	if asset.Network.AllowsStake() {
		profile, ok := stakingBySymbol[symbol]
		if !ok {
			profile, ok = stakingByClass[asset.Network]
		}
		if ok {
			add(domain.FieldStakingYield, profile.yield)
			add(domain.FieldStakedPercentage, profile.staked)
			add(domain.FieldValidatorCount, profile.validators)
		}
	}
	return out
}

func lookup(bySymbol map[string]float64, byClass map[domain.NetworkClass]float64, symbol string, class domain.NetworkClass) (float64, bool) {
	if v, ok := bySymbol[symbol]; ok {
		return v, true
	}
	v, ok := byClass[class]
	return v, ok
}
