package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const SourceCoinMetrics = "coinmetrics"

// coinMetricsFields maps community API metric ids onto record fields.
var coinMetricsFields = []struct {
	metric string
	field  domain.Field
}{
	{"AdrActCnt", domain.FieldActiveAddresses},
	{"TxCnt", domain.FieldTransactionCount},
	{"TxTfrValAdjUSD", domain.FieldTransactionVolume},
	{"CapRealUSD", domain.FieldRealizedCap},
	{"CapMVRVCur", domain.FieldMVRVRatio},
	{"NVTAdj", domain.FieldNVTRatio},
	{"SplyCur", domain.FieldCirculatingSupply},
	{"HashRate", domain.FieldHashRate},
}

// CoinMetricsSource reads daily network data from the Coin Metrics community API.
type CoinMetricsSource struct {
	*Requester
	baseURL string
	tracer  trace.Tracer
	tickers map[string]string
}

func NewCoinMetricsSource(tracer trace.Tracer, req *Requester, baseURL string) *CoinMetricsSource {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://community-api.coinmetrics.io/v4"
	}
	return &CoinMetricsSource{
		Requester: req,
		baseURL:   strings.TrimRight(baseURL, "/"),
		tracer:    tracer,
		tickers:   map[string]string{"AVAX": "avaxc"},
	}
}

func (p *CoinMetricsSource) Supports(asset domain.Asset) bool {
	return asset.Symbol != ""
}

func (p *CoinMetricsSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *CoinMetricsSource) ticker(symbol string) string {
	if t, ok := p.tickers[strings.ToUpper(symbol)]; ok {
		return t
	}
	return strings.ToLower(symbol)
}

func (p *CoinMetricsSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "coinmetrics.fetch-asset-metrics")
	defer span.End()

	metrics := make([]string, 0, len(coinMetricsFields))
	for _, m := range coinMetricsFields {
		if m.field.AppliesTo(asset.Network) {
			metrics = append(metrics, m.metric)
		}
	}

	query := url.Values{}
	query.Set("assets", p.ticker(asset.Symbol))
	query.Set("metrics", strings.Join(metrics, ","))
	query.Set("frequency", "1d")
	query.Set("page_size", "1")
	query.Set("paging_from", "end")
	query.Set("ignore_unsupported_errors", "true")

	resp, err := p.Get(ctx, p.baseURL+"/timeseries/asset-metrics?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch asset metrics %s: %w", asset.Symbol, err)
	}
	row := gjson.GetBytes(resp.Body, "data.0")
	if !row.Exists() {
		return nil, nil
	}

	var out candidates
	for _, m := range coinMetricsFields {
		if m.field.AppliesTo(asset.Network) {
			out.addPositive(m.field, row.Get(m.metric), 1)
		}
	}
	return out, nil
}
