package provider

import (
	"context"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"onchain-collector/internal/domain"

	"go.opentelemetry.io/otel/trace"
)

var (
	btcAsset = domain.Asset{Symbol: "BTC", CoinID: "bitcoin", Network: domain.NetworkProofOfWork, MarketRank: 1}
	ethAsset = domain.Asset{Symbol: "ETH", CoinID: "ethereum", Network: domain.NetworkProofOfStake, MarketRank: 2}
	adaAsset = domain.Asset{Symbol: "ADA", CoinID: "cardano", Network: domain.NetworkProofOfStake, MarketRank: 9}
)

func noopTracer() trace.Tracer {
	return trace.NewNoopTracerProvider().Tracer("test")
}

func valuesByField(cands []domain.FieldCandidate) map[domain.Field]float64 {
	out := make(map[domain.Field]float64, len(cands))
	for _, c := range cands {
		out[c.Field] = c.Value
	}
	return out
}

func TestMempoolSource(t *testing.T) {
	req := newTestRequester(SourceMempool, 0, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/api/v1/blocks":
			return jsonResponse(http.StatusOK, `[
				{"height":840000,"timestamp":1713571767,"tx_count":3050},
				{"height":839999,"timestamp":1713571167,"tx_count":2950},
				{"height":839998,"timestamp":1713570567,"tx_count":3000}]`), nil
		case "/api/v1/mining/hashrate/3d":
			return jsonResponse(http.StatusOK, `{"currentHashrate":6.2e20,"currentDifficulty":86388558925171}`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})
	p := NewMempoolSource(noopTracer(), req, "https://example.com/")

	if !p.Supports(btcAsset) || p.Supports(ethAsset) {
		t.Fatal("mempool only serves bitcoin")
	}

	got := valuesByField(p.Fetch(context.Background(), btcAsset))
	if got[domain.FieldBlockHeight] != 840000 {
		t.Fatalf("unexpected block height: %v", got)
	}
	if got[domain.FieldBlockTime] != 600 {
		t.Fatalf("expected 600s block time, got %v", got[domain.FieldBlockTime])
	}
	if math.Abs(got[domain.FieldHashRate]-620_000_000) > 1e-3 {
		t.Fatalf("expected hash rate normalized to TH/s, got %v", got[domain.FieldHashRate])
	}
	if got[domain.FieldTransactionCount] != 432000 {
		t.Fatalf("expected 3000 tx/block * 144, got %v", got[domain.FieldTransactionCount])
	}
	if infl := got[domain.FieldInflationRate]; infl < 0.8 || infl > 0.9 {
		t.Fatalf("unexpected post-halving inflation: %v", infl)
	}
	if s2f := got[domain.FieldStockToFlow]; s2f < 110 || s2f > 125 {
		t.Fatalf("unexpected stock to flow: %v", s2f)
	}
}

func TestBTCSupplySchedule(t *testing.T) {
	if got := btcSupplyAt(840000); got != 19_687_503.125 {
		t.Fatalf("unexpected supply at 840000: %v", got)
	}
	if btcSubsidy(839999) != 6.25 || btcSubsidy(840000) != 3.125 {
		t.Fatal("unexpected subsidy around the fourth halving")
	}
}

func TestBlockscoutSource(t *testing.T) {
	req := newTestRequester(SourceBlockscout, 0, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v2/stats" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"total_blocks":"21000000","average_block_time":12100.0,"transactions_today":"1250000"}`), nil
	})
	p := NewBlockscoutSource(noopTracer(), req, "https://example.com")

	got := valuesByField(p.Fetch(context.Background(), ethAsset))
	if got[domain.FieldBlockHeight] != 21_000_000 || got[domain.FieldTransactionCount] != 1_250_000 {
		t.Fatalf("unexpected values: %v", got)
	}
	if math.Abs(got[domain.FieldBlockTime]-12.1) > 1e-9 {
		t.Fatalf("expected block time in seconds, got %v", got[domain.FieldBlockTime])
	}
}

func TestKoiosSource(t *testing.T) {
	req := newTestRequester(SourceKoios, 0, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/api/v1/tip":
			return jsonResponse(http.StatusOK, `[{"epoch_no":520,"block_no":11000000}]`), nil
		case "/api/v1/totals":
			if req.URL.Query().Get("_epoch_no") != "520" {
				t.Fatalf("unexpected totals epoch: %s", req.URL.RawQuery)
			}
			return jsonResponse(http.StatusOK, `[{"circulation":"36000000000000000","supply":"37500000000000000"}]`), nil
		case "/api/v1/epoch_info":
			if req.URL.Query().Get("_epoch_no") != "519" {
				t.Fatalf("unexpected epoch_info epoch: %s", req.URL.RawQuery)
			}
			return jsonResponse(http.StatusOK, `[{"tx_count":450000,"active_stake":"21600000000000000","start_time":1000,"end_time":433000}]`), nil
		case "/api/v1/pool_list":
			if req.Header.Get("Prefer") != "count=exact" {
				t.Fatalf("expected exact count preference")
			}
			resp := jsonResponse(http.StatusOK, `[{"pool_id_bech32":"pool1"}]`)
			resp.Header.Set("Content-Range", "0-0/2987")
			return resp, nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})
	p := NewKoiosSource(noopTracer(), req, "https://example.com")

	got := valuesByField(p.Fetch(context.Background(), adaAsset))
	if got[domain.FieldCirculatingSupply] != 36_000_000_000 || got[domain.FieldTotalSupply] != 37_500_000_000 {
		t.Fatalf("expected supply in ADA, got %v", got)
	}
	if got[domain.FieldStakedPercentage] != 60 {
		t.Fatalf("expected 60%% staked, got %v", got[domain.FieldStakedPercentage])
	}
	if got[domain.FieldValidatorCount] != 2987 {
		t.Fatalf("unexpected validator count: %v", got[domain.FieldValidatorCount])
	}
	if got[domain.FieldTransactionCount] != 90000 {
		t.Fatalf("expected daily tx count, got %v", got[domain.FieldTransactionCount])
	}
	if got[domain.FieldBlockHeight] != 11_000_000 {
		t.Fatalf("unexpected block height: %v", got[domain.FieldBlockHeight])
	}
}

func TestKoiosSourceKeepsPartialDataOnFailure(t *testing.T) {
	req := newTestRequester(SourceKoios, 0, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/api/v1/tip" {
			return jsonResponse(http.StatusOK, `[{"epoch_no":520,"block_no":11000000}]`), nil
		}
		return jsonResponse(http.StatusBadRequest, "bad query"), nil
	})
	p := NewKoiosSource(noopTracer(), req, "https://example.com")

	got := p.Fetch(context.Background(), adaAsset)
	if len(got) != 1 || got[0].Field != domain.FieldBlockHeight {
		t.Fatalf("expected the tip values only, got %+v", got)
	}
}

func TestCoinMetricsSourceGatesWorkMetrics(t *testing.T) {
	req := newTestRequester(SourceCoinMetrics, 0, func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		if q.Get("assets") != "ada" {
			t.Fatalf("unexpected asset: %s", q.Get("assets"))
		}
		if strings.Contains(q.Get("metrics"), "HashRate") {
			t.Fatalf("hash rate must not be requested for proof-of-stake assets")
		}
		return jsonResponse(http.StatusOK, `{"data":[{"asset":"ada","AdrActCnt":"61000","TxCnt":"88000","CapMVRVCur":"1.2","NVTAdj":"35.5","HashRate":"5"}]}`), nil
	})
	p := NewCoinMetricsSource(noopTracer(), req, "https://example.com/v4")

	got := valuesByField(p.Fetch(context.Background(), adaAsset))
	if got[domain.FieldActiveAddresses] != 61000 || got[domain.FieldMVRVRatio] != 1.2 || got[domain.FieldNVTRatio] != 35.5 {
		t.Fatalf("unexpected values: %v", got)
	}
	if _, ok := got[domain.FieldHashRate]; ok {
		t.Fatal("hash rate must be dropped for proof-of-stake assets")
	}
}

func TestCoinGeckoSource(t *testing.T) {
	req := newTestRequester(SourceCoinGecko, 0, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/coins/bitcoin" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.Header.Get("x-cg-pro-api-key") != "secret" {
			t.Fatalf("expected pro api key header")
		}
		return jsonResponse(http.StatusOK, `{"market_data":{"circulating_supply":19500000,"total_supply":19500000,"max_supply":21000000,"market_cap":{"usd":1.2e12}},"developer_data":{"commit_count_4_weeks":120}}`), nil
	})
	p := NewCoinGeckoSource(noopTracer(), req, "https://example.com", "secret")

	got := valuesByField(p.Fetch(context.Background(), btcAsset))
	if got[domain.FieldCirculatingSupply] != 19_500_000 || got[domain.FieldMaxSupply] != 21_000_000 {
		t.Fatalf("unexpected supply values: %v", got)
	}
	if got[domain.FieldDevCommits] != 120 {
		t.Fatalf("unexpected commit count: %v", got[domain.FieldDevCommits])
	}
	if s := got[domain.FieldDevActivityScore]; s <= 0 || s > 100 {
		t.Fatalf("dev activity score out of range: %v", s)
	}
	if CoinGeckoTier("secret") != domain.SourceTierPremium || CoinGeckoTier("") != domain.SourceTierFree {
		t.Fatal("unexpected coingecko tiers")
	}
}

func TestCoinGeckoSourceNotFoundYieldsNothing(t *testing.T) {
	var calls atomic.Int32
	req := newTestRequester(SourceCoinGecko, 3, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusNotFound, `{"error":"coin not found"}`), nil
	})
	p := NewCoinGeckoSource(noopTracer(), req, "https://example.com", "")

	if got := p.Fetch(context.Background(), btcAsset); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDefiLlamaSourceSharesSnapshot(t *testing.T) {
	var calls atomic.Int32
	req := newTestRequester(SourceDefiLlama, 0, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		switch req.URL.Path {
		case "/v2/chains":
			return jsonResponse(http.StatusOK, `[{"name":"Ethereum","gecko_id":"ethereum","tvl":6.1e10},{"name":"Bitcoin","gecko_id":"bitcoin","tvl":5.0e9}]`), nil
		case "/protocols":
			return jsonResponse(http.StatusOK, `[{"name":"Aave","chains":["Ethereum","Arbitrum"]},{"name":"Lido","chains":["Ethereum"]},{"name":"Babylon","chains":["Bitcoin"]}]`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})
	p := NewDefiLlamaSource(noopTracer(), req, "https://example.com", 0)

	eth := valuesByField(p.Fetch(context.Background(), ethAsset))
	if eth[domain.FieldTVL] != 6.1e10 || eth[domain.FieldProtocolCount] != 2 {
		t.Fatalf("unexpected eth values: %v", eth)
	}
	btc := valuesByField(p.Fetch(context.Background(), btcAsset))
	if btc[domain.FieldTVL] != 5.0e9 || btc[domain.FieldProtocolCount] != 1 {
		t.Fatalf("unexpected btc values: %v", btc)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected listings fetched once, got %d calls", calls.Load())
	}

	ada := p.Fetch(context.Background(), adaAsset)
	if len(ada) != 0 {
		t.Fatalf("unlisted chain must yield nothing, got %+v", ada)
	}
}

func TestDefiLlamaSourceReportsZeroProtocols(t *testing.T) {
	req := newTestRequester(SourceDefiLlama, 0, func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/v2/chains":
			return jsonResponse(http.StatusOK, `[{"name":"Cardano","gecko_id":"cardano","tvl":3.2e8}]`), nil
		case "/protocols":
			return jsonResponse(http.StatusOK, `[{"name":"Lido","chains":["Ethereum"]}]`), nil
		}
		t.Fatalf("unexpected path: %s", req.URL.Path)
		return nil, nil
	})
	p := NewDefiLlamaSource(noopTracer(), req, "https://example.com", 0)

	ada := valuesByField(p.Fetch(context.Background(), adaAsset))
	if ada[domain.FieldTVL] != 3.2e8 {
		t.Fatalf("unexpected tvl: %v", ada)
	}
	n, ok := ada[domain.FieldProtocolCount]
	if !ok || n != 0 {
		t.Fatalf("listed chain without protocols should report 0, got %v (present=%v)", n, ok)
	}
}

func TestDefiLlamaSourceWaiterHonoursItsContext(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	req := newTestRequester(SourceDefiLlama, 0, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/v2/chains" {
			entered <- struct{}{}
			<-release
			return jsonResponse(http.StatusOK, `[{"name":"Ethereum","gecko_id":"ethereum","tvl":6.1e10}]`), nil
		}
		return jsonResponse(http.StatusOK, `[{"name":"Lido","chains":["Ethereum"]}]`), nil
	})
	p := NewDefiLlamaSource(noopTracer(), req, "https://example.com", 0)

	first := make(chan []domain.FieldCandidate, 1)
	go func() { first <- p.Fetch(context.Background(), ethAsset) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	if got := p.Fetch(ctx, ethAsset); len(got) != 0 {
		t.Fatalf("expected nothing once the caller's context ended, got %+v", got)
	}
	if waited := time.Since(started); waited > time.Second {
		t.Fatalf("waiter blocked on the refresh for %v", waited)
	}

	close(release)
	eth := valuesByField(<-first)
	if eth[domain.FieldTVL] != 6.1e10 || eth[domain.FieldProtocolCount] != 1 {
		t.Fatalf("unexpected eth values: %v", eth)
	}
}
