// Package validate checks fused records against the data invariants of the
// metrics table. Violations never block a write; they downgrade it.
package validate

import (
	"fmt"

	"onchain-collector/internal/domain"
)

// Violation codes.
const (
	CodeSupplyOrder      = "supply_order"
	CodeStakedRange      = "staked_percentage_range"
	CodeTVLWithoutProtos = "tvl_without_protocols"
	CodeQualityRange     = "quality_range"
	CodeClassGating      = "network_class_gating"
	CodeHeightRegression = "block_height_regression"
)

type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Code + ": " + v.Message
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate runs every check independently. previousHeight is the last
// persisted block height for the symbol, nil when unknown.
func (v *Validator) Validate(rec domain.MetricRecord, previousHeight *int64) []Violation {
	var out []Violation
	out = append(out, checkSupply(rec)...)

	if pct, ok := rec.Value(domain.FieldStakedPercentage); ok && (pct < 0 || pct > 100) {
		out = append(out, Violation{CodeStakedRange, fmt.Sprintf("staked_percentage %.4g outside [0,100]", pct)})
	}

	if tvl, ok := rec.Value(domain.FieldTVL); ok && tvl > 0 {
		if n, known := rec.Value(domain.FieldProtocolCount); known && n <= 0 {
			out = append(out, Violation{CodeTVLWithoutProtos, fmt.Sprintf("tvl %.4g with protocol_count %d", tvl, int64(n))})
		}
	}

	if rec.QualityScore < 0 || rec.QualityScore > 1 {
		out = append(out, Violation{CodeQualityRange, fmt.Sprintf("quality_score %.4g outside [0,1]", rec.QualityScore)})
	}

	for _, f := range domain.AllFields {
		if rec.Has(f) && !f.AppliesTo(rec.Network) {
			out = append(out, Violation{CodeClassGating, fmt.Sprintf("%s set on %s asset", f, rec.Network)})
		}
	}

	if previousHeight != nil {
		if h, ok := rec.Value(domain.FieldBlockHeight); ok && int64(h) < *previousHeight {
			out = append(out, Violation{CodeHeightRegression, fmt.Sprintf("block_height %d below last persisted %d", int64(h), *previousHeight)})
		}
	}
	return out
}

func checkSupply(rec domain.MetricRecord) []Violation {
	circ, hasCirc := rec.Value(domain.FieldCirculatingSupply)
	total, hasTotal := rec.Value(domain.FieldTotalSupply)
	maxS, hasMax := rec.Value(domain.FieldMaxSupply)

	var out []Violation
	if hasCirc && hasTotal && circ > total {
		out = append(out, Violation{CodeSupplyOrder, fmt.Sprintf("circulating %.6g exceeds total %.6g", circ, total)})
	}
	if hasTotal && hasMax && total > maxS {
		out = append(out, Violation{CodeSupplyOrder, fmt.Sprintf("total %.6g exceeds max %.6g", total, maxS)})
	}
	if hasCirc && hasMax && !hasTotal && circ > maxS {
		out = append(out, Violation{CodeSupplyOrder, fmt.Sprintf("circulating %.6g exceeds max %.6g", circ, maxS)})
	}
	return out
}

// Codes flattens violations into their codes, in order, for persistence.
func Codes(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}
