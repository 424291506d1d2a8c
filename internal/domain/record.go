package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ProvenanceEstimated marks a record whose only contributor was the estimator.
const (
	ProvenanceEstimated = "estimated"
	ProvenanceNone      = "none"
)

// MetricRecord is the fused, quality-scored snapshot persisted once per asset
// per cycle bucket. Nil metric pointers are unknown values.
type MetricRecord struct {
	Symbol    string       `json:"symbol"`
	CoinID    string       `json:"coin_id"`
	Network   NetworkClass `json:"network_class"`
	Timestamp time.Time    `json:"timestamp"`

	ActiveAddresses   *int64   `json:"active_addresses"`
	TransactionCount  *int64   `json:"transaction_count"`
	TransactionVolume *float64 `json:"transaction_volume"`
	BlockHeight       *int64   `json:"block_height"`
	BlockTime         *float64 `json:"block_time"`

	HashRate   *float64 `json:"hash_rate"`
	Difficulty *float64 `json:"difficulty"`

	CirculatingSupply *float64 `json:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply"`
	MaxSupply         *float64 `json:"max_supply"`
	InflationRate     *float64 `json:"inflation_rate"`

	MarketCap   *float64 `json:"market_cap"`
	NVTRatio    *float64 `json:"nvt_ratio"`
	RealizedCap *float64 `json:"realized_cap"`
	MVRVRatio   *float64 `json:"mvrv_ratio"`
	StockToFlow *float64 `json:"stock_to_flow"`

	DevCommits       *int64   `json:"dev_commits"`
	DevActivityScore *float64 `json:"dev_activity_score"`

	StakingYield     *float64 `json:"staking_yield"`
	StakedPercentage *float64 `json:"staked_percentage"`
	ValidatorCount   *int64   `json:"validator_count"`

	TVL           *float64 `json:"tvl"`
	ProtocolCount *int64   `json:"protocol_count"`

	DataSources     string    `json:"data_sources"`
	QualityScore    float64   `json:"quality_score"`
	EstimatedFields []string  `json:"estimated_fields"`
	Violations      []string  `json:"violations"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// NewMetricRecord starts an empty record for the asset in the given bucket.
func NewMetricRecord(asset Asset, bucket time.Time) MetricRecord {
	return MetricRecord{
		Symbol:    asset.Symbol,
		CoinID:    asset.CoinID,
		Network:   asset.Network,
		Timestamp: bucket.UTC(),
	}
}

func (r *MetricRecord) slot(f Field) any {
	switch f {
	case FieldActiveAddresses:
		return &r.ActiveAddresses
	case FieldTransactionCount:
		return &r.TransactionCount
	case FieldTransactionVolume:
		return &r.TransactionVolume
	case FieldBlockHeight:
		return &r.BlockHeight
	case FieldBlockTime:
		return &r.BlockTime
	case FieldHashRate:
		return &r.HashRate
	case FieldDifficulty:
		return &r.Difficulty
	case FieldCirculatingSupply:
		return &r.CirculatingSupply
	case FieldTotalSupply:
		return &r.TotalSupply
	case FieldMaxSupply:
		return &r.MaxSupply
	case FieldInflationRate:
		return &r.InflationRate
	case FieldMarketCap:
		return &r.MarketCap
	case FieldNVTRatio:
		return &r.NVTRatio
	case FieldRealizedCap:
		return &r.RealizedCap
	case FieldMVRVRatio:
		return &r.MVRVRatio
	case FieldStockToFlow:
		return &r.StockToFlow
	case FieldDevCommits:
		return &r.DevCommits
	case FieldDevActivityScore:
		return &r.DevActivityScore
	case FieldStakingYield:
		return &r.StakingYield
	case FieldStakedPercentage:
		return &r.StakedPercentage
	case FieldValidatorCount:
		return &r.ValidatorCount
	case FieldTVL:
		return &r.TVL
	case FieldProtocolCount:
		return &r.ProtocolCount
	}
	return nil
}

// Value returns the field value and whether it is known.
func (r *MetricRecord) Value(f Field) (float64, bool) {
	switch p := r.slot(f).(type) {
	case **float64:
		if *p == nil {
			return 0, false
		}
		return **p, true
	case **int64:
		if *p == nil {
			return 0, false
		}
		return float64(**p), true
	}
	return 0, false
}

// Has reports whether the field carries a value.
func (r *MetricRecord) Has(f Field) bool {
	_, ok := r.Value(f)
	return ok
}

// Set stores v in the field. Integer columns are rounded.
func (r *MetricRecord) Set(f Field, v float64) {
	switch p := r.slot(f).(type) {
	case **float64:
		val := v
		*p = &val
	case **int64:
		val := int64(math.Round(v))
		*p = &val
	}
}

// Clear nulls the field.
func (r *MetricRecord) Clear(f Field) {
	switch p := r.slot(f).(type) {
	case **float64:
		*p = nil
	case **int64:
		*p = nil
	}
}

// Arg returns the field as a driver argument: nil for unknown values.
func (r *MetricRecord) Arg(f Field) any {
	switch p := r.slot(f).(type) {
	case **float64:
		if *p == nil {
			return nil
		}
		return **p
	case **int64:
		if *p == nil {
			return nil
		}
		return **p
	}
	return nil
}

// ScanTarget returns a pointer suitable for row scanning into the field.
func (r *MetricRecord) ScanTarget(f Field) any {
	return r.slot(f)
}

// PresentFields lists the fields that carry a value, in storage order.
func (r *MetricRecord) PresentFields() []string {
	out := make([]string, 0, len(AllFields))
	for _, f := range AllFields {
		if r.Has(f) {
			out = append(out, string(f))
		}
	}
	return out
}

// Key identifies the storage row of the record.
func (r *MetricRecord) Key() string {
	return fmt.Sprintf("%s@%s", strings.ToUpper(r.Symbol), r.Timestamp.UTC().Format(time.RFC3339))
}

// Sources splits the provenance string into source ids.
func (r *MetricRecord) Sources() []string {
	if r.DataSources == "" || r.DataSources == ProvenanceEstimated || r.DataSources == ProvenanceNone {
		return nil
	}
	return strings.Split(r.DataSources, ",")
}

// MergeSources joins the live sources of two provenance strings, incoming
// first. The estimated and none markers are kept only when neither side names
// a live source.
func MergeSources(incoming, stored string) string {
	seen := make(map[string]bool)
	var out []string
	for _, prov := range []string{incoming, stored} {
		for _, s := range strings.Split(prov, ",") {
			s = strings.TrimSpace(s)
			if s == "" || s == ProvenanceEstimated || s == ProvenanceNone || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	switch {
	case len(out) > 0:
		return strings.Join(out, ",")
	case incoming != "":
		return incoming
	}
	return stored
}

// BucketTime truncates t to the cycle granularity.
func BucketTime(t time.Time, granularity time.Duration) time.Time {
	t = t.UTC()
	if granularity <= 0 {
		return t
	}
	return t.Truncate(granularity)
}

// QualityPolicy decides how the stored quality score reacts to a rewrite of
// the same key.
type QualityPolicy string

const (
	QualityPolicyMax    QualityPolicy = "max"
	QualityPolicyLatest QualityPolicy = "latest"
)

func (p QualityPolicy) IsValid() bool {
	return p == QualityPolicyMax || p == QualityPolicyLatest
}

// MergeRecord applies incoming on top of stored: known incoming values win,
// unknown incoming values never erase stored ones, block height never moves
// backwards and the quality score follows policy.
func MergeRecord(stored *MetricRecord, incoming MetricRecord, policy QualityPolicy) MetricRecord {
	if stored == nil {
		out := incoming
		out.EstimatedFields = normalizeNames(incoming.EstimatedFields)
		return out
	}

	out := MetricRecord{
		Symbol:     incoming.Symbol,
		CoinID:     incoming.CoinID,
		Network:    incoming.Network,
		Timestamp:  incoming.Timestamp,
		Violations: incoming.Violations,
	}
	if out.CoinID == "" {
		out.CoinID = stored.CoinID
	}
	if out.Network == "" {
		out.Network = stored.Network
	}

	incomingPresent := make(map[string]bool)
	for _, f := range AllFields {
		next, okNext := incoming.Value(f)
		prev, okPrev := stored.Value(f)
		switch {
		case okNext && okPrev && f == FieldBlockHeight:
			out.Set(f, math.Max(prev, next))
		case okNext:
			out.Set(f, next)
		case okPrev:
			out.Set(f, prev)
		}
		if okNext {
			incomingPresent[string(f)] = true
		}
	}

	out.DataSources = MergeSources(incoming.DataSources, stored.DataSources)

	// A flagged write keeps its capped score under either policy.
	out.QualityScore = incoming.QualityScore
	if policy != QualityPolicyLatest && len(incoming.Violations) == 0 && stored.QualityScore > out.QualityScore {
		out.QualityScore = stored.QualityScore
	}

	estimated := make([]string, 0, len(stored.EstimatedFields)+len(incoming.EstimatedFields))
	for _, name := range stored.EstimatedFields {
		if !incomingPresent[name] {
			estimated = append(estimated, name)
		}
	}
	estimated = append(estimated, incoming.EstimatedFields...)
	out.EstimatedFields = normalizeNames(estimated)
	return out
}

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
