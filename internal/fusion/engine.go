package fusion

import (
	"sort"
	"strings"
	"time"

	"onchain-collector/internal/domain"
)

// Provenance records where the values of a fused record came from.
type Provenance struct {
	// Sources are the live contributors in trust order.
	Sources         []string
	EstimatedFields []domain.Field
	FieldSources    map[domain.Field]string
}

// String is the persisted provenance: live sources joined by ",", or a marker
// when the estimator alone (or nothing) contributed.
func (p Provenance) String() string {
	switch {
	case len(p.Sources) > 0:
		return strings.Join(p.Sources, ",")
	case len(p.EstimatedFields) > 0:
		return domain.ProvenanceEstimated
	}
	return domain.ProvenanceNone
}

func (p Provenance) UsedEstimates() bool {
	return len(p.EstimatedFields) > 0
}

// Engine merges candidates into one record per asset. Live values always beat
// estimates; among live values the most trusted source wins.
type Engine struct {
	order []string
	rank  map[string]int
}

func NewEngine(trustOrder []string) *Engine {
	e := &Engine{rank: make(map[string]int, len(trustOrder))}
	for _, s := range trustOrder {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := e.rank[s]; dup {
			continue
		}
		e.rank[s] = len(e.order)
		e.order = append(e.order, s)
	}
	return e
}

// TrustOrder returns the configured order, most trusted first.
func (e *Engine) TrustOrder() []string {
	return append([]string(nil), e.order...)
}

func (e *Engine) rankOf(source string) int {
	if r, ok := e.rank[source]; ok {
		return r
	}
	return len(e.order)
}

// better reports whether a should be preferred over b for the same field.
func (e *Engine) better(a, b domain.FieldCandidate) bool {
	if a.IsEstimate != b.IsEstimate {
		return !a.IsEstimate
	}
	ra, rb := e.rankOf(a.Source), e.rankOf(b.Source)
	if ra != rb {
		return ra < rb
	}
	return a.Source < b.Source
}

// Fuse picks one value per applicable field. The returned record has no
// timestamp or quality score yet.
func (e *Engine) Fuse(asset domain.Asset, candidates []domain.FieldCandidate) (domain.MetricRecord, Provenance) {
	best := make(map[domain.Field]domain.FieldCandidate)
	for _, c := range candidates {
		if !c.Field.AppliesTo(asset.Network) {
			continue
		}
		cur, ok := best[c.Field]
		if !ok || e.better(c, cur) {
			best[c.Field] = c
		}
	}

	rec := domain.NewMetricRecord(asset, time.Time{})
	prov := Provenance{FieldSources: make(map[domain.Field]string, len(best))}
	live := make(map[string]bool)
	for _, f := range domain.AllFields {
		c, ok := best[f]
		if !ok {
			continue
		}
		rec.Set(f, c.Value)
		prov.FieldSources[f] = c.Source
		if c.IsEstimate {
			prov.EstimatedFields = append(prov.EstimatedFields, f)
			continue
		}
		live[c.Source] = true
	}

	for s := range live {
		prov.Sources = append(prov.Sources, s)
	}
	prov.Sources = e.SortSources(prov.Sources)

	rec.DataSources = prov.String()
	rec.EstimatedFields = make([]string, 0, len(prov.EstimatedFields))
	for _, f := range prov.EstimatedFields {
		rec.EstimatedFields = append(rec.EstimatedFields, string(f))
	}
	sort.Strings(rec.EstimatedFields)
	return rec, prov
}

// SortSources returns ids in trust order, unknown ids last by name.
func (e *Engine) SortSources(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := e.rankOf(out[i]), e.rankOf(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// LiveFields lists the applicable fields at least one live candidate supplies.
func LiveFields(asset domain.Asset, candidates []domain.FieldCandidate) map[domain.Field]bool {
	out := make(map[domain.Field]bool)
	for _, c := range candidates {
		if !c.IsEstimate && c.Field.AppliesTo(asset.Network) {
			out[c.Field] = true
		}
	}
	return out
}
