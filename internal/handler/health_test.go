package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/repository"
	"onchain-collector/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var testBucket = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type cycleStub struct {
	store *repository.MemoryMetricsRepository
}

func (s cycleStub) RunCycle(ctx context.Context, assets []domain.Asset) domain.CycleResult {
	res := domain.CycleResult{CycleID: "cycle-1", Bucket: testBucket, Assets: len(assets)}
	for _, a := range assets {
		rec := domain.NewMetricRecord(a, testBucket)
		rec.QualityScore = 0.95
		rec.DataSources = "coingecko,mempool"
		stored, _ := s.store.Upsert(ctx, rec)
		res.Written++
		res.Records = append(res.Records, stored)
	}
	return res
}

type healthStub domain.SourceHealth

func (h healthStub) Health() domain.SourceHealth { return domain.SourceHealth(h) }

func newTestRouter(t *testing.T, apiKey string) (*gin.Engine, *repository.MemoryMetricsRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracer := trace.NewNoopTracerProvider().Tracer("test")
	store := repository.NewMemoryMetricsRepository(domain.QualityPolicyMax)
	registry := repository.NewStaticAssetRegistry([]domain.Asset{
		{Symbol: "BTC", CoinID: "bitcoin", Network: domain.NetworkProofOfWork, MarketRank: 1},
	})
	sources := []service.HealthReporter{
		healthStub{Source: "coingecko", Tier: domain.SourceTierFree, State: domain.BreakerClosed},
		healthStub{Source: "defillama", Tier: domain.SourceTierFree, State: domain.BreakerOpen, ConsecutiveFailures: 5},
	}
	svc := service.NewCollectionService(tracer, registry, cycleStub{store: store}, store, nil, nil, sources, 0)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "onchain_test_total", Help: "test"}))

	r := gin.New()
	New(tracer, svc, reg, apiKey).RegisterRoutes(r)
	return r, store
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["status"] != "healthy" || body["open_sources"] != float64(1) {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if _, ok := body["last_cycle"]; ok {
		t.Fatal("no cycle has run yet")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, "secret")

	w := serve(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "onchain_test_total") {
		t.Fatalf("unexpected metrics response %d: %s", w.Code, w.Body.String())
	}
}
