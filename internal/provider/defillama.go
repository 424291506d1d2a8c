package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const SourceDefiLlama = "defillama"

type llamaChain struct {
	name string
	tvl  float64
}

type llamaSnapshot struct {
	fetchedAt time.Time
	chains    map[string]llamaChain
	protocols map[string]int
}

// DefiLlamaSource supplies chain TVL and protocol counts. Both listings cover
// every chain, so they are fetched once and shared for snapshotTTL.
type DefiLlamaSource struct {
	*Requester
	baseURL     string
	tracer      trace.Tracer
	snapshotTTL time.Duration
	now         func() time.Time

	refresh singleflight.Group
	mu      sync.Mutex
	cached  *llamaSnapshot
}

func NewDefiLlamaSource(tracer trace.Tracer, req *Requester, baseURL string, snapshotTTL time.Duration) *DefiLlamaSource {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://api.llama.fi"
	}
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}
	return &DefiLlamaSource{
		Requester:   req,
		baseURL:     strings.TrimRight(baseURL, "/"),
		tracer:      tracer,
		snapshotTTL: snapshotTTL,
		now:         time.Now,
	}
}

func (p *DefiLlamaSource) Supports(asset domain.Asset) bool {
	return asset.CoinID != ""
}

func (p *DefiLlamaSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *DefiLlamaSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "defillama.fetch-chain")
	defer span.End()

	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	chain, ok := snap.chains[asset.CoinID]
	if !ok {
		return nil, nil
	}

	// A listed chain always reports its protocol count, zero included.
	var out candidates
	out.add(domain.FieldTVL, chain.tvl)
	out.add(domain.FieldProtocolCount, float64(snap.protocols[strings.ToLower(chain.name)]))
	return out, nil
}

// snapshot returns the cached listings, refreshing them when stale. Callers
// share one refresh and stop waiting for it when their own context ends.
func (p *DefiLlamaSource) snapshot(ctx context.Context) (*llamaSnapshot, error) {
	p.mu.Lock()
	snap := p.cached
	p.mu.Unlock()
	if snap != nil && p.now().Sub(snap.fetchedAt) < p.snapshotTTL {
		return snap, nil
	}

	ch := p.refresh.DoChan("snapshot", func() (any, error) {
		return p.load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*llamaSnapshot), nil
	}
}

func (p *DefiLlamaSource) load(ctx context.Context) (*llamaSnapshot, error) {
	resp, err := p.Get(ctx, p.baseURL+"/v2/chains", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch chains: %w", err)
	}
	chains := make(map[string]llamaChain)
	gjson.ParseBytes(resp.Body).ForEach(func(_, row gjson.Result) bool {
		id := row.Get("gecko_id").String()
		tvl, ok := number(row.Get("tvl"))
		if id != "" && ok && tvl >= 0 {
			chains[id] = llamaChain{name: row.Get("name").String(), tvl: tvl}
		}
		return true
	})

	resp, err = p.Get(ctx, p.baseURL+"/protocols", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch protocols: %w", err)
	}
	protocols := make(map[string]int)
	gjson.ParseBytes(resp.Body).ForEach(func(_, row gjson.Result) bool {
		for _, c := range row.Get("chains").Array() {
			protocols[strings.ToLower(c.String())]++
		}
		return true
	})

	snap := &llamaSnapshot{fetchedAt: p.now(), chains: chains, protocols: protocols}
	p.mu.Lock()
	p.cached = snap
	p.mu.Unlock()
	return snap, nil
}
