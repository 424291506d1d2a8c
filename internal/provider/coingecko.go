package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const (
	coingeckoBaseURL    = "https://api.coingecko.com/api/v3"
	coingeckoProBaseURL = "https://pro-api.coingecko.com/api/v3"
	SourceCoinGecko     = "coingecko"
)

// CoinGeckoTier is premium when the source runs with a pro API key.
func CoinGeckoTier(apiKey string) domain.SourceTier {
	if strings.TrimSpace(apiKey) != "" {
		return domain.SourceTierPremium
	}
	return domain.SourceTierFree
}

// CoinGeckoSource supplies supply, market cap and development activity.
type CoinGeckoSource struct {
	*Requester
	baseURL string
	apiKey  string
	tracer  trace.Tracer
}

func NewCoinGeckoSource(tracer trace.Tracer, req *Requester, baseURL, apiKey string) *CoinGeckoSource {
	apiKey = strings.TrimSpace(apiKey)
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = coingeckoBaseURL
		if apiKey != "" {
			baseURL = coingeckoProBaseURL
		}
	}
	return &CoinGeckoSource{
		Requester: req,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		tracer:    tracer,
	}
}

func (p *CoinGeckoSource) Supports(asset domain.Asset) bool {
	return asset.CoinID != ""
}

func (p *CoinGeckoSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *CoinGeckoSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-coin")
	defer span.End()

	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("market_data", "true")
	query.Set("community_data", "false")
	query.Set("developer_data", "true")
	query.Set("sparkline", "false")
	u := fmt.Sprintf("%s/coins/%s?%s", p.baseURL, url.PathEscape(asset.CoinID), query.Encode())

	header := http.Header{}
	if p.apiKey != "" {
		header.Set("x-cg-pro-api-key", p.apiKey)
	}

	resp, err := p.Get(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("fetch coin %s: %w", asset.CoinID, err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("parse coin %s: invalid json", asset.CoinID)
	}
	doc := gjson.ParseBytes(resp.Body)

	var out candidates
	out.addPositive(domain.FieldCirculatingSupply, doc.Get("market_data.circulating_supply"), 1)
	out.addPositive(domain.FieldTotalSupply, doc.Get("market_data.total_supply"), 1)
	out.addPositive(domain.FieldMaxSupply, doc.Get("market_data.max_supply"), 1)
	out.addPositive(domain.FieldMarketCap, doc.Get("market_data.market_cap.usd"), 1)
	if commits, ok := number(doc.Get("developer_data.commit_count_4_weeks")); ok && commits >= 0 {
		out.add(domain.FieldDevCommits, commits)
		out.add(domain.FieldDevActivityScore, devActivityScore(commits))
	}
	return out, nil
}

// devActivityScore maps a 4-week commit count onto 0..100 on a log scale;
// 400 commits or more scores 100.
func devActivityScore(commits float64) float64 {
	if commits <= 0 {
		return 0
	}
	score := 100 * math.Log1p(commits) / math.Log1p(400)
	return math.Round(clamp(score, 0, 100)*100) / 100
}
