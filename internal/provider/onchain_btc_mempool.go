package provider

import (
	"context"
	"fmt"
	"math"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceMempool = "mempool"

	btcHalvingInterval = 210_000
	btcInitialSubsidy  = 50.0
	btcTargetBlockSecs = 600.0
	secondsPerYear     = 365.25 * 24 * 3600
)

// MempoolSource reads Bitcoin chain and mining statistics from a mempool.space
// compatible API.
type MempoolSource struct {
	*Requester
	baseURL string
	tracer  trace.Tracer
}

func NewMempoolSource(tracer trace.Tracer, req *Requester, baseURL string) *MempoolSource {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://mempool.space"
	}
	return &MempoolSource{
		Requester: req,
		baseURL:   strings.TrimRight(baseURL, "/"),
		tracer:    tracer,
	}
}

func (p *MempoolSource) Supports(asset domain.Asset) bool {
	return asset.CoinID == "bitcoin" && asset.Network.AllowsWork()
}

func (p *MempoolSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *MempoolSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "onchain.btc-mempool.fetch")
	defer span.End()

	var out candidates
	if err := p.fetchBlocks(ctx, &out); err != nil {
		return out, err
	}
	if err := p.fetchHashrate(ctx, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (p *MempoolSource) fetchBlocks(ctx context.Context, out *candidates) error {
	resp, err := p.Get(ctx, p.baseURL+"/api/v1/blocks", nil)
	if err != nil {
		return fmt.Errorf("fetch btc blocks: %w", err)
	}
	blocks := gjson.ParseBytes(resp.Body).Array()
	if len(blocks) == 0 {
		return fmt.Errorf("btc mempool blocks payload has no rows")
	}

	height, ok := number(blocks[0].Get("height"))
	if !ok {
		return fmt.Errorf("btc mempool blocks payload has no height")
	}
	out.add(domain.FieldBlockHeight, height)

	interval := btcTargetBlockSecs
	if len(blocks) > 1 {
		newest, ok1 := number(blocks[0].Get("timestamp"))
		oldest, ok2 := number(blocks[len(blocks)-1].Get("timestamp"))
		if ok1 && ok2 && newest > oldest {
			interval = (newest - oldest) / float64(len(blocks)-1)
		}
	}
	out.add(domain.FieldBlockTime, math.Round(interval*10)/10)

	var txTotal float64
	for _, b := range blocks {
		n, _ := number(b.Get("tx_count"))
		txTotal += n
	}
	if txTotal > 0 {
		perBlock := txTotal / float64(len(blocks))
		out.add(domain.FieldTransactionCount, math.Round(perBlock*86400/interval))
	}

	issuance := btcSubsidy(int64(height)) * secondsPerYear / btcTargetBlockSecs
	supply := btcSupplyAt(int64(height))
	if issuance > 0 && supply > 0 {
		out.add(domain.FieldInflationRate, math.Round(issuance/supply*100*10000)/10000)
		out.add(domain.FieldStockToFlow, math.Round(supply/issuance*100)/100)
	}
	return nil
}

func (p *MempoolSource) fetchHashrate(ctx context.Context, out *candidates) error {
	resp, err := p.Get(ctx, p.baseURL+"/api/v1/mining/hashrate/3d", nil)
	if err != nil {
		return fmt.Errorf("fetch btc hashrate: %w", err)
	}
	doc := gjson.ParseBytes(resp.Body)
	// H/s to TH/s
	out.addPositive(domain.FieldHashRate, doc.Get("currentHashrate"), 1e12)
	out.addPositive(domain.FieldDifficulty, doc.Get("currentDifficulty"), 1)
	return nil
}

// btcSubsidy is the block reward at height, in BTC.
func btcSubsidy(height int64) float64 {
	era := height / btcHalvingInterval
	if era >= 64 {
		return 0
	}
	return btcInitialSubsidy / math.Pow(2, float64(era))
}

// btcSupplyAt is the issued supply after the block at height, in BTC.
func btcSupplyAt(height int64) float64 {
	if height < 0 {
		return 0
	}
	var supply float64
	era := height / btcHalvingInterval
	for e := int64(0); e < era && e < 64; e++ {
		supply += btcHalvingInterval * btcInitialSubsidy / math.Pow(2, float64(e))
	}
	supply += float64(height-era*btcHalvingInterval+1) * btcSubsidy(height)
	return supply
}
