package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"onchain-collector/internal/domain"
)

// MemoryMetricsRepository keeps records in process with the same merge rules
// as the Postgres statement. It backs local runs without a database.
type MemoryMetricsRepository struct {
	mu     sync.RWMutex
	rows   map[string]domain.MetricRecord
	policy domain.QualityPolicy
	now    func() time.Time
}

func NewMemoryMetricsRepository(policy domain.QualityPolicy) *MemoryMetricsRepository {
	if !policy.IsValid() {
		policy = domain.QualityPolicyMax
	}
	return &MemoryMetricsRepository{
		rows:   make(map[string]domain.MetricRecord),
		policy: policy,
		now:    time.Now,
	}
}

func (r *MemoryMetricsRepository) Upsert(_ context.Context, rec domain.MetricRecord) (domain.MetricRecord, error) {
	rec.Symbol = strings.ToUpper(rec.Symbol)
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Violations = nonNil(rec.Violations)
	key := rec.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	var stored *domain.MetricRecord
	if prev, ok := r.rows[key]; ok {
		stored = &prev
	}
	merged := domain.MergeRecord(stored, rec, r.policy)
	merged.UpdatedAt = r.now().UTC()
	r.rows[key] = merged
	return merged, nil
}

// Amend rewrites the provenance and violations of an existing row and lowers
// its quality score to rec's when that is smaller.
func (r *MemoryMetricsRepository) Amend(_ context.Context, rec domain.MetricRecord) (domain.MetricRecord, error) {
	rec.Symbol = strings.ToUpper(rec.Symbol)
	rec.Timestamp = rec.Timestamp.UTC()
	key := rec.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	if !ok {
		return domain.MetricRecord{}, fmt.Errorf("amend %s: no stored row", key)
	}
	row.DataSources = rec.DataSources
	row.Violations = nonNil(rec.Violations)
	row.QualityScore = math.Min(row.QualityScore, rec.QualityScore)
	row.UpdatedAt = r.now().UTC()
	r.rows[key] = row
	return row, nil
}

func (r *MemoryMetricsRepository) LatestBySymbol(_ context.Context, symbol string) (*domain.MetricRecord, error) {
	symbol = strings.ToUpper(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *domain.MetricRecord
	for _, rec := range r.rows {
		if rec.Symbol != symbol {
			continue
		}
		if latest == nil || rec.Timestamp.After(latest.Timestamp) {
			c := rec
			latest = &c
		}
	}
	return latest, nil
}

func (r *MemoryMetricsRepository) LatestBlockHeight(_ context.Context, symbol string) (*int64, error) {
	symbol = strings.ToUpper(symbol)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *int64
	for _, rec := range r.rows {
		if rec.Symbol != symbol || rec.BlockHeight == nil {
			continue
		}
		if best == nil || *rec.BlockHeight > *best {
			h := *rec.BlockHeight
			best = &h
		}
	}
	return best, nil
}

func (r *MemoryMetricsRepository) History(_ context.Context, symbol string, from, to time.Time, limit int) ([]domain.MetricRecord, error) {
	symbol = strings.ToUpper(symbol)
	if limit <= 0 {
		limit = 168
	}
	r.mu.RLock()
	var out []domain.MetricRecord
	for _, rec := range r.rows {
		if rec.Symbol == symbol && !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			out = append(out, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMetricsRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, rec := range r.rows {
		if rec.Timestamp.Before(cutoff) {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}
