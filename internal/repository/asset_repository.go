package repository

import (
	"context"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// AssetRepository reads the asset registry.
type AssetRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewAssetRepository(pool PgxPool, tracer trace.Tracer) *AssetRepository {
	return &AssetRepository{pool: pool, tracer: tracer}
}

// ListActive returns active assets ordered by market rank. Rows that fail
// validation are skipped with a warning rather than failing the cycle.
func (r *AssetRepository) ListActive(ctx context.Context) ([]domain.Asset, error) {
	_, span := r.tracer.Start(ctx, "asset-repo.list-active")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
SELECT symbol, coin_id, network_class, market_rank
FROM assets
WHERE active
ORDER BY market_rank ASC, symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var (
			a       domain.Asset
			network string
		)
		if err := rows.Scan(&a.Symbol, &a.CoinID, &network, &a.MarketRank); err != nil {
			return nil, err
		}
		a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
		class, err := domain.ParseNetworkClass(network)
		if err == nil {
			a.Network = class
			err = a.Validate()
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", a.Symbol).Msg("skipping invalid registry row")
			continue
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// StaticAssetRegistry serves a fixed asset list, used when no database is
// configured.
type StaticAssetRegistry struct {
	assets []domain.Asset
}

func NewStaticAssetRegistry(assets []domain.Asset) *StaticAssetRegistry {
	if len(assets) == 0 {
		assets = domain.DefaultAssets
	}
	return &StaticAssetRegistry{assets: append([]domain.Asset(nil), assets...)}
}

func (r *StaticAssetRegistry) ListActive(context.Context) ([]domain.Asset, error) {
	return append([]domain.Asset(nil), r.assets...), nil
}
