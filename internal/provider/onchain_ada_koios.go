package provider

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"onchain-collector/internal/domain"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceKoios      = "koios"
	lovelacePerADA   = 1_000_000
	koiosEpochSecond = 5 * 24 * 3600
)

// KoiosSource reads Cardano chain, supply and stake data from the Koios API.
type KoiosSource struct {
	*Requester
	baseURL string
	tracer  trace.Tracer
}

func NewKoiosSource(tracer trace.Tracer, req *Requester, baseURL string) *KoiosSource {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://api.koios.rest"
	}
	return &KoiosSource{
		Requester: req,
		baseURL:   strings.TrimRight(baseURL, "/"),
		tracer:    tracer,
	}
}

func (p *KoiosSource) Supports(asset domain.Asset) bool {
	return asset.CoinID == "cardano" && asset.Network.AllowsStake()
}

func (p *KoiosSource) Fetch(ctx context.Context, asset domain.Asset) []domain.FieldCandidate {
	return p.collect(ctx, asset, p.fetch)
}

func (p *KoiosSource) fetch(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
	ctx, span := p.tracer.Start(ctx, "onchain.ada-koios.fetch")
	defer span.End()

	var out candidates
	epoch, err := p.fetchTip(ctx, &out)
	if err != nil {
		return out, err
	}
	circulation, err := p.fetchTotals(ctx, epoch, &out)
	if err != nil {
		return out, err
	}
	if err := p.fetchEpoch(ctx, epoch-1, circulation, &out); err != nil {
		return out, err
	}
	if err := p.fetchPoolCount(ctx, &out); err != nil {
		return out, err
	}
	return out, nil
}

func (p *KoiosSource) fetchTip(ctx context.Context, out *candidates) (int64, error) {
	resp, err := p.Get(ctx, p.baseURL+"/api/v1/tip", nil)
	if err != nil {
		return 0, fmt.Errorf("fetch koios tip: %w", err)
	}
	row := gjson.ParseBytes(resp.Body).Get("0")
	if !row.Exists() {
		return 0, fmt.Errorf("koios tip payload has no rows")
	}
	out.addPositive(domain.FieldBlockHeight, row.Get("block_no"), 1)
	epoch, ok := number(row.Get("epoch_no"))
	if !ok || epoch <= 0 {
		return 0, fmt.Errorf("koios tip payload has no epoch")
	}
	return int64(epoch), nil
}

// fetchTotals returns the circulating supply in ADA.
func (p *KoiosSource) fetchTotals(ctx context.Context, epoch int64, out *candidates) (float64, error) {
	query := url.Values{}
	query.Set("_epoch_no", strconv.FormatInt(epoch, 10))
	resp, err := p.Get(ctx, p.baseURL+"/api/v1/totals?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("fetch koios totals: %w", err)
	}
	row := gjson.ParseBytes(resp.Body).Get("0")
	if !row.Exists() {
		return 0, fmt.Errorf("koios totals payload has no rows")
	}
	out.addPositive(domain.FieldTotalSupply, row.Get("supply"), lovelacePerADA)
	circulation, ok := number(row.Get("circulation"))
	if !ok || circulation <= 0 {
		return 0, nil
	}
	circulation /= lovelacePerADA
	out.add(domain.FieldCirculatingSupply, circulation)
	return circulation, nil
}

func (p *KoiosSource) fetchEpoch(ctx context.Context, epoch int64, circulation float64, out *candidates) error {
	query := url.Values{}
	query.Set("_epoch_no", strconv.FormatInt(epoch, 10))
	resp, err := p.Get(ctx, p.baseURL+"/api/v1/epoch_info?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("fetch koios epoch_info: %w", err)
	}
	row := gjson.ParseBytes(resp.Body).Get("0")
	if !row.Exists() {
		return fmt.Errorf("koios epoch_info payload has no rows")
	}

	if txCount, ok := number(row.Get("tx_count")); ok && txCount > 0 {
		duration := float64(koiosEpochSecond)
		start, ok1 := number(row.Get("start_time"))
		end, ok2 := number(row.Get("end_time"))
		if ok1 && ok2 && end > start {
			duration = end - start
		}
		out.add(domain.FieldTransactionCount, math.Round(txCount*86400/duration))
	}

	if stake, ok := number(row.Get("active_stake")); ok && stake > 0 && circulation > 0 {
		pct := stake / lovelacePerADA / circulation * 100
		out.add(domain.FieldStakedPercentage, math.Round(pct*100)/100)
	}
	return nil
}

// fetchPoolCount reads the registered pool count from the Content-Range header
// of a one-row page.
func (p *KoiosSource) fetchPoolCount(ctx context.Context, out *candidates) error {
	query := url.Values{}
	query.Set("select", "pool_id_bech32")
	query.Set("pool_status", "eq.registered")
	query.Set("limit", "1")
	header := http.Header{}
	header.Set("Prefer", "count=exact")

	resp, err := p.Get(ctx, p.baseURL+"/api/v1/pool_list?"+query.Encode(), header)
	if err != nil {
		return fmt.Errorf("fetch koios pool_list: %w", err)
	}
	total, ok := contentRangeTotal(resp.Header.Get("Content-Range"))
	if !ok {
		return fmt.Errorf("koios pool_list response has no usable Content-Range")
	}
	out.add(domain.FieldValidatorCount, total)
	return nil
}

// contentRangeTotal parses the total from "0-0/3012".
func contentRangeTotal(v string) (float64, bool) {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return 0, false
	}
	n, ok := parseFloatString(v[i+1:])
	if !ok || n <= 0 {
		return 0, false
	}
	return n, true
}
