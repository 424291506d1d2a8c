package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"onchain-collector/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d targets for %d values", len(dest), len(r.values))
	}
	for i, v := range r.values {
		if v == nil {
			continue
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

type fakePool struct {
	sql  string
	args []any
	row  fakeRow
	tag  pgconn.CommandTag
	err  error
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.sql, p.args = sql, args
	return p.tag, p.err
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.sql, p.args = sql, args
	return nil, p.err
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.sql, p.args = sql, args
	return p.row
}

func testTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

var bucket = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func storedRowValues(height int64, quality float64, estimated []string) []any {
	values := []any{"BTC", "bitcoin", "pow", bucket}
	for _, f := range domain.AllFields {
		if f == domain.FieldBlockHeight {
			h := height
			values = append(values, &h)
			continue
		}
		values = append(values, nil)
	}
	return append(values, "coingecko,mempool", quality, estimated, []string{}, bucket.Add(time.Minute))
}

func TestBuildUpsertSQLMergeRules(t *testing.T) {
	sql := buildUpsertSQL(domain.QualityPolicyMax)

	for _, want := range []string{
		"ON CONFLICT (symbol, bucket_time) DO UPDATE SET",
		"block_height = GREATEST(EXCLUDED.block_height, onchain_metrics.block_height)",
		"market_cap = COALESCE(EXCLUDED.market_cap, onchain_metrics.market_cap)",
		"staking_yield = COALESCE(EXCLUDED.staking_yield, onchain_metrics.staking_yield)",
		"quality_score = CASE WHEN cardinality(EXCLUDED.violations) > 0 THEN EXCLUDED.quality_score ELSE GREATEST(EXCLUDED.quality_score, onchain_metrics.quality_score) END",
		"string_to_array(EXCLUDED.data_sources || ',' || onchain_metrics.data_sources, ',')) WITH ORDINALITY",
		"WHERE s NOT IN ('', 'estimated', 'none')",
		"NULLIF(EXCLUDED.data_sources, ''), onchain_metrics.data_sources)",
		fmt.Sprintf("unnest($%d::text[])", len(domain.AllFields)+9),
		"updated_at = NOW()",
		"RETURNING symbol, coin_id, network_class, bucket_time",
		"quality_score::float8",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("upsert sql missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "block_height = COALESCE") {
		t.Fatal("block height must not use plain overwrite")
	}

	latest := buildUpsertSQL(domain.QualityPolicyLatest)
	if !strings.Contains(latest, "quality_score = EXCLUDED.quality_score") {
		t.Fatalf("latest policy should overwrite quality:\n%s", latest)
	}
}

func TestUpsertArgs(t *testing.T) {
	rec := domain.NewMetricRecord(domain.Asset{Symbol: "btc", CoinID: "bitcoin", Network: domain.NetworkProofOfWork}, bucket)
	rec.Set(domain.FieldBlockHeight, 880_000)
	rec.Set(domain.FieldHashRate, 4.5e8)
	rec.QualityScore = 0.95

	args := upsertArgs(rec)

	if len(args) != len(domain.AllFields)+9 {
		t.Fatalf("unexpected arg count %d", len(args))
	}
	if args[0] != "BTC" || args[2] != "pow" {
		t.Fatalf("unexpected identity args %v", args[:4])
	}
	if args[4] != nil {
		t.Fatalf("unknown active_addresses should be NULL, got %v", args[4])
	}
	if args[4+3] != int64(880_000) {
		t.Fatalf("unexpected block height arg %v", args[7])
	}
	estimated, ok := args[len(args)-3].([]string)
	if !ok || estimated == nil {
		t.Fatalf("estimated fields should be a non-nil slice, got %#v", args[len(args)-3])
	}
	present := args[len(args)-1].([]string)
	if !reflect.DeepEqual(present, []string{"block_height", "hash_rate"}) {
		t.Fatalf("unexpected present fields %v", present)
	}
}

func TestUpsertReturnsMergedRow(t *testing.T) {
	pool := &fakePool{row: fakeRow{values: storedRowValues(880_010, 0.95, []string{"inflation_rate"})}}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	rec := domain.NewMetricRecord(domain.Asset{Symbol: "BTC", CoinID: "bitcoin", Network: domain.NetworkProofOfWork}, bucket)
	rec.Set(domain.FieldBlockHeight, 880_000)
	got, err := repo.Upsert(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BlockHeight == nil || *got.BlockHeight != 880_010 {
		t.Fatalf("unexpected block height %v", got.BlockHeight)
	}
	if got.Network != domain.NetworkProofOfWork || got.QualityScore != 0.95 {
		t.Fatalf("unexpected row %+v", got)
	}
	if !reflect.DeepEqual(got.EstimatedFields, []string{"inflation_rate"}) {
		t.Fatalf("unexpected estimated fields %v", got.EstimatedFields)
	}
	if !strings.HasPrefix(pool.sql, "INSERT INTO onchain_metrics") {
		t.Fatalf("unexpected sql %q", pool.sql)
	}
}

func TestAmendLowersScoreOnly(t *testing.T) {
	pool := &fakePool{row: fakeRow{values: storedRowValues(880_010, 0.5, []string{})}}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	rec := domain.NewMetricRecord(domain.Asset{Symbol: "btc", CoinID: "bitcoin", Network: domain.NetworkProofOfWork}, bucket)
	rec.DataSources = "coingecko,coinmetrics"
	rec.Violations = []string{"supply_order"}
	rec.QualityScore = 0.5
	got, err := repo.Amend(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.QualityScore != 0.5 {
		t.Fatalf("unexpected row %+v", got)
	}
	for _, want := range []string{
		"UPDATE onchain_metrics SET",
		"quality_score = LEAST(onchain_metrics.quality_score, $5)",
		"WHERE symbol = $1 AND bucket_time = $2",
		"RETURNING symbol, coin_id",
	} {
		if !strings.Contains(pool.sql, want) {
			t.Fatalf("amend sql missing %q:\n%s", want, pool.sql)
		}
	}
	wantArgs := []any{"BTC", bucket, "coingecko,coinmetrics", []string{"supply_order"}, 0.5}
	if !reflect.DeepEqual(pool.args, wantArgs) {
		t.Fatalf("unexpected args %#v", pool.args)
	}

	pool.row = fakeRow{err: pgx.ErrNoRows}
	if _, err := repo.Amend(context.Background(), rec); err == nil || !strings.Contains(err.Error(), "amend BTC@") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestUpsertWrapsErrors(t *testing.T) {
	pool := &fakePool{row: fakeRow{err: errors.New("conn closed")}}
	repo := NewMetricsRepository(pool, testTracer(), "")

	rec := domain.NewMetricRecord(domain.Asset{Symbol: "ETH"}, bucket)
	_, err := repo.Upsert(context.Background(), rec)
	if err == nil || !strings.Contains(err.Error(), "ETH@2026-03-14T10:00:00Z") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestLatestBySymbolNoRows(t *testing.T) {
	pool := &fakePool{row: fakeRow{err: pgx.ErrNoRows}}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	got, err := repo.LatestBySymbol(context.Background(), "btc")
	if err != nil || got != nil {
		t.Fatalf("expected nil record, got %v, %v", got, err)
	}
	if pool.args[0] != "BTC" {
		t.Fatalf("symbol should be upper-cased, got %v", pool.args[0])
	}
}

func TestLatestBlockHeight(t *testing.T) {
	h := int64(11_000_000)
	pool := &fakePool{row: fakeRow{values: []any{&h}}}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	got, err := repo.LatestBlockHeight(context.Background(), "ADA")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != h {
		t.Fatalf("unexpected height %v", got)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	pool := &fakePool{tag: pgconn.NewCommandTag("DELETE 3")}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	n, err := repo.DeleteOlderThan(context.Background(), bucket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows deleted, got %d", n)
	}
}

func TestHistoryPropagatesQueryError(t *testing.T) {
	pool := &fakePool{err: errors.New("timeout")}
	repo := NewMetricsRepository(pool, testTracer(), domain.QualityPolicyMax)

	if _, err := repo.History(context.Background(), "BTC", bucket.Add(-time.Hour), bucket, 0); err == nil {
		t.Fatal("expected error")
	}
	if pool.args[3] != 168 {
		t.Fatalf("expected default limit, got %v", pool.args[3])
	}
}
