package provider

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"onchain-collector/internal/domain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewBufferString(body)), Header: make(http.Header)}
}

func newTestRequester(source string, maxRetries int, rt roundTripFunc) *Requester {
	r := NewRequester(RequesterConfig{
		Source:           source,
		FailureThreshold: 5,
		RecoveryTimeout:  time.Minute,
		Retry: RetryPolicy{
			MaxRetries:     maxRetries,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2,
			Jitter:         0.2,
		},
	}, NewRateLimiter(0), nil)
	r.client = &http.Client{Transport: rt}
	return r
}

func TestRequesterRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	r := newTestRequester("coingecko", 3, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) < 3 {
			return jsonResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return jsonResponse(http.StatusOK, `{"ok":true}`), nil
	})

	resp, err := r.Get(context.Background(), "https://example.com/x", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", resp.Body)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRequesterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	r := newTestRequester("coingecko", 3, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusNotFound, "unknown coin"), nil
	})

	_, err := r.Get(context.Background(), "https://example.com/x", nil)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent errors must not be retried, got %d attempts", calls.Load())
	}
	if h := r.Health(); h.ConsecutiveFailures != 0 {
		t.Fatalf("client errors must not count against the source: %+v", h)
	}
}

func TestRequesterRetriesRateLimitUntilExhausted(t *testing.T) {
	var calls atomic.Int32
	r := newTestRequester("defillama", 2, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(http.StatusTooManyRequests, "slow down"), nil
	})

	if _, err := r.Get(context.Background(), "https://example.com/x", nil); err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 1 call plus 2 retries, got %d", calls.Load())
	}
}

func TestRequesterBreakerShortCircuitsAfterTimeouts(t *testing.T) {
	var calls atomic.Int32
	r := newTestRequester("defillama", 0, func(req *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	})

	for i := 0; i < 5; i++ {
		if _, err := r.Get(context.Background(), "https://example.com/v2/chains", nil); err == nil {
			t.Fatalf("call %d: expected timeout error", i)
		}
	}
	if got := r.Health().State; got != domain.BreakerOpen {
		t.Fatalf("expected open breaker after 5 timeouts, got %s", got)
	}
	if r.Available() {
		t.Fatal("open breaker must report unavailable")
	}

	_, err := r.Get(context.Background(), "https://example.com/v2/chains", nil)
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if calls.Load() != 5 {
		t.Fatalf("open breaker must not reach the network, got %d calls", calls.Load())
	}
}

func TestRequesterCollectSwallowsErrorsAndGatesFields(t *testing.T) {
	r := newTestRequester("coinmetrics", 0, nil)
	ada := domain.Asset{Symbol: "ADA", CoinID: "cardano", Network: domain.NetworkProofOfStake}

	got := r.collect(context.Background(), ada, func(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error) {
		return []domain.FieldCandidate{
			{Field: domain.FieldTransactionCount, Value: 90000},
			{Field: domain.FieldHashRate, Value: 1},
		}, errors.New("second call failed")
	})

	if len(got) != 1 || got[0].Field != domain.FieldTransactionCount {
		t.Fatalf("expected only the applicable partial value, got %+v", got)
	}
	if got[0].Source != "coinmetrics" || got[0].IsEstimate {
		t.Fatalf("candidate must carry source id and live flag: %+v", got[0])
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(&StatusError{StatusCode: 502}) || !IsTransient(&StatusError{StatusCode: 429}) {
		t.Fatal("5xx and 429 are transient")
	}
	if IsTransient(&StatusError{StatusCode: 400}) {
		t.Fatal("4xx is permanent")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("timeouts are transient")
	}
	if IsTransient(ErrBreakerOpen) || IsTransient(nil) {
		t.Fatal("breaker-open and nil are not transient")
	}
}
