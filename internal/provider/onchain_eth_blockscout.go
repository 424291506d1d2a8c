package provider

import (
	"context"
	"fmt"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const SourceBlockscout = "blockscout"

type BlockscoutSource struct {
	*Requester
	baseURL string
	tracer  trace.Tracer
}

func NewBlockscoutSource(tracer trace.Tracer, req *Requester, baseURL string) *BlockscoutSource {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://eth.blockscout.com"
	}
	return &BlockscoutSource{
		Requester: req,
		baseURL:   strings.TrimRight(baseURL, "/"),
		tracer:    tracer,
	}
}

func (p *BlockscoutSource) Supports(asset domain.Asset) bool {
	return asset.CoinID == "ethereum"
}

func (p *BlockscoutSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *BlockscoutSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "onchain.eth-blockscout.fetch")
	defer span.End()

	resp, err := p.Get(ctx, p.baseURL+"/api/v2/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch eth stats: %w", err)
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, fmt.Errorf("decode eth blockscout payload: invalid json")
	}
	doc := gjson.ParseBytes(resp.Body)

	var out candidates
	out.addPositive(domain.FieldBlockHeight, doc.Get("total_blocks"), 1)
	// reported in milliseconds
	out.addPositive(domain.FieldBlockTime, doc.Get("average_block_time"), 1000)
	out.addPositive(domain.FieldTransactionCount, doc.Get("transactions_today"), 1)
	return out, nil
}
