package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"onchain-collector/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MetricsRepository stores fused records in the onchain_metrics table.
type MetricsRepository struct {
	pool   PgxPool
	tracer trace.Tracer
	policy domain.QualityPolicy

	upsertSQL string
	amendSQL  string
	selectSQL string
}

func NewMetricsRepository(pool PgxPool, tracer trace.Tracer, policy domain.QualityPolicy) *MetricsRepository {
	if !policy.IsValid() {
		policy = domain.QualityPolicyMax
	}
	return &MetricsRepository{
		pool:      pool,
		tracer:    tracer,
		policy:    policy,
		upsertSQL: buildUpsertSQL(policy),
		amendSQL:  buildAmendSQL(),
		selectSQL: "SELECT " + returningColumns() + " FROM onchain_metrics",
	}
}

func metricColumns() []string {
	out := make([]string, len(domain.AllFields))
	for i, f := range domain.AllFields {
		out[i] = string(f)
	}
	return out
}

func returningColumns() string {
	cols := []string{"symbol", "coin_id", "network_class", "bucket_time"}
	cols = append(cols, metricColumns()...)
	cols = append(cols, "data_sources", "quality_score::float8", "estimated_fields", "violations", "updated_at")
	return strings.Join(cols, ", ")
}

// buildUpsertSQL renders the single-statement merge. Parameters are the
// identity columns, one per metric field, the provenance columns, and finally
// the names of the fields present in the incoming record, which clear a
// stale estimate mark.
func buildUpsertSQL(policy domain.QualityPolicy) string {
	metrics := metricColumns()
	insertCols := append([]string{"symbol", "coin_id", "network_class", "bucket_time"}, metrics...)
	insertCols = append(insertCols, "data_sources", "quality_score", "estimated_fields", "violations")

	placeholders := make([]string, len(insertCols))
	for i := range insertCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	presentParam := fmt.Sprintf("$%d", len(insertCols)+1)

	sets := []string{
		"coin_id = COALESCE(NULLIF(EXCLUDED.coin_id, ''), onchain_metrics.coin_id)",
		"network_class = EXCLUDED.network_class",
	}
	for _, col := range metrics {
		if col == string(domain.FieldBlockHeight) {
			// GREATEST ignores NULLs, so an unknown incoming height keeps the stored one.
			sets = append(sets, "block_height = GREATEST(EXCLUDED.block_height, onchain_metrics.block_height)")
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, onchain_metrics.%s)", col, col, col))
	}
	// Live sources of both writes, incoming first; the estimated and none
	// markers only survive when no live source exists.
	sets = append(sets, fmt.Sprintf("data_sources = COALESCE((\n"+
		"        SELECT string_agg(s, ',' ORDER BY pos) FROM (\n"+
		"            SELECT s, MIN(pos) AS pos\n"+
		"            FROM unnest(string_to_array(EXCLUDED.data_sources || ',' || onchain_metrics.data_sources, ',')) WITH ORDINALITY AS u(s, pos)\n"+
		"            WHERE s NOT IN ('', '%s', '%s')\n"+
		"            GROUP BY s\n"+
		"        ) AS live\n"+
		"    ), NULLIF(EXCLUDED.data_sources, ''), onchain_metrics.data_sources)",
		domain.ProvenanceEstimated, domain.ProvenanceNone))
	if policy == domain.QualityPolicyLatest {
		sets = append(sets, "quality_score = EXCLUDED.quality_score")
	} else {
		// A flagged write keeps its capped score.
		sets = append(sets, "quality_score = CASE WHEN cardinality(EXCLUDED.violations) > 0 THEN EXCLUDED.quality_score "+
			"ELSE GREATEST(EXCLUDED.quality_score, onchain_metrics.quality_score) END")
	}
	sets = append(sets,
		"estimated_fields = ARRAY(SELECT f FROM ("+
			"(SELECT unnest(onchain_metrics.estimated_fields) AS f EXCEPT SELECT unnest("+presentParam+"::text[])) "+
			"UNION SELECT unnest(EXCLUDED.estimated_fields)) AS merged ORDER BY f)",
		"violations = EXCLUDED.violations",
		"updated_at = NOW()",
	)

	return "INSERT INTO onchain_metrics (\n    " + strings.Join(insertCols, ", ") + "\n) VALUES (\n    " +
		strings.Join(placeholders, ", ") + "\n)\nON CONFLICT (symbol, bucket_time) DO UPDATE SET\n    " +
		strings.Join(sets, ",\n    ") + "\nRETURNING " + returningColumns()
}

// buildAmendSQL rewrites provenance and violations of an existing row. The
// quality score can only go down.
func buildAmendSQL() string {
	return "UPDATE onchain_metrics SET\n" +
		"    data_sources = $3,\n" +
		"    violations = $4,\n" +
		"    quality_score = LEAST(onchain_metrics.quality_score, $5),\n" +
		"    updated_at = NOW()\n" +
		"WHERE symbol = $1 AND bucket_time = $2\n" +
		"RETURNING " + returningColumns()
}

func upsertArgs(rec domain.MetricRecord) []any {
	args := []any{
		strings.ToUpper(rec.Symbol),
		rec.CoinID,
		string(rec.Network),
		rec.Timestamp.UTC(),
	}
	for _, f := range domain.AllFields {
		args = append(args, rec.Arg(f))
	}
	return append(args,
		rec.DataSources,
		rec.QualityScore,
		nonNil(rec.EstimatedFields),
		nonNil(rec.Violations),
		rec.PresentFields(),
	)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Upsert merges rec into its (symbol, bucket) row and returns the stored row.
func (r *MetricsRepository) Upsert(ctx context.Context, rec domain.MetricRecord) (domain.MetricRecord, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.upsert")
	defer span.End()

	out, err := scanRecord(r.pool.QueryRow(ctx, r.upsertSQL, upsertArgs(rec)...))
	if err != nil {
		return domain.MetricRecord{}, fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return out, nil
}

// Amend rewrites the provenance and violations of the stored row for rec's
// key and lowers its quality score to rec's when that is smaller.
func (r *MetricsRepository) Amend(ctx context.Context, rec domain.MetricRecord) (domain.MetricRecord, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.amend")
	defer span.End()

	out, err := scanRecord(r.pool.QueryRow(ctx, r.amendSQL,
		strings.ToUpper(rec.Symbol),
		rec.Timestamp.UTC(),
		rec.DataSources,
		nonNil(rec.Violations),
		rec.QualityScore,
	))
	if err != nil {
		return domain.MetricRecord{}, fmt.Errorf("amend %s: %w", rec.Key(), err)
	}
	return out, nil
}

// LatestBySymbol returns the most recent row for symbol, or nil when none exists.
func (r *MetricsRepository) LatestBySymbol(ctx context.Context, symbol string) (*domain.MetricRecord, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.latest-by-symbol")
	defer span.End()

	rec, err := scanRecord(r.pool.QueryRow(ctx,
		r.selectSQL+" WHERE symbol = $1 ORDER BY bucket_time DESC LIMIT 1",
		strings.ToUpper(symbol),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestBlockHeight returns the highest persisted block height for symbol.
func (r *MetricsRepository) LatestBlockHeight(ctx context.Context, symbol string) (*int64, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.latest-block-height")
	defer span.End()

	var height *int64
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(block_height) FROM onchain_metrics WHERE symbol = $1`,
		strings.ToUpper(symbol),
	).Scan(&height)
	if err != nil {
		return nil, err
	}
	return height, nil
}

// History returns rows for symbol in [from, to], newest first.
func (r *MetricsRepository) History(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.MetricRecord, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.history")
	defer span.End()

	if limit <= 0 {
		limit = 168
	}
	rows, err := r.pool.Query(ctx,
		r.selectSQL+" WHERE symbol = $1 AND bucket_time >= $2 AND bucket_time <= $3 ORDER BY bucket_time DESC LIMIT $4",
		strings.ToUpper(symbol), from.UTC(), to.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.MetricRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *MetricsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_, span := r.tracer.Start(ctx, "metrics-repo.delete-older-than")
	defer span.End()

	tag, err := r.pool.Exec(ctx, `DELETE FROM onchain_metrics WHERE bucket_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row interface{ Scan(dest ...any) error }) (domain.MetricRecord, error) {
	var (
		rec     domain.MetricRecord
		network string
	)
	dest := []any{&rec.Symbol, &rec.CoinID, &network, &rec.Timestamp}
	for _, f := range domain.AllFields {
		dest = append(dest, rec.ScanTarget(f))
	}
	dest = append(dest, &rec.DataSources, &rec.QualityScore, &rec.EstimatedFields, &rec.Violations, &rec.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return domain.MetricRecord{}, err
	}
	rec.Network = domain.NetworkClass(network)
	rec.Timestamp = rec.Timestamp.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.EstimatedFields = nonNil(rec.EstimatedFields)
	rec.Violations = nonNil(rec.Violations)
	return rec, nil
}
