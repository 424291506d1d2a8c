package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"onchain-collector/internal/domain"
	"onchain-collector/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 64 << 20

// RetryPolicy bounds the retries of transient failures.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64
}

// RequesterConfig holds the resilience settings of one source.
type RequesterConfig struct {
	Source           string
	Tier             domain.SourceTier
	MinInterval      time.Duration
	Timeout          time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	Retry            RetryPolicy
	// HTTPClient overrides the default client, mainly in tests.
	HTTPClient *http.Client
}

// StatusError is a non-2xx answer from a source.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Source, e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTransient reports whether err may succeed on retry. Only client-side
// rejections (4xx other than 429) are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, ErrBreakerOpen) && !errors.Is(err, context.Canceled)
}

// Response is a successful source answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Requester performs the HTTP calls of one source through its rate limiter,
// circuit breaker and retry policy.
type Requester struct {
	source  string
	tier    domain.SourceTier
	client  *http.Client
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy
	timeout time.Duration
	metrics *metrics.Recorder
}

func NewRequester(cfg RequesterConfig, limiter *RateLimiter, rec *metrics.Recorder) *Requester {
	if cfg.Tier == "" {
		cfg.Tier = domain.SourceTierFree
	}
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	limiter.SetInterval(cfg.Source, cfg.MinInterval)
	r := &Requester{
		source:  cfg.Source,
		tier:    cfg.Tier,
		client:  cfg.HTTPClient,
		limiter: limiter,
		retry:   cfg.Retry,
		timeout: cfg.Timeout,
		metrics: rec,
	}
	r.breaker = NewCircuitBreaker(cfg.Source, BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
		IsFailure:        IsTransient,
		OnStateChange: func(source string, from, to domain.BreakerState) {
			log.Warn().Str("source", source).Str("from", string(from)).Str("to", string(to)).Msg("circuit breaker transition")
			rec.BreakerState(source, to)
		},
	})
	rec.BreakerState(cfg.Source, domain.BreakerClosed)
	return r
}

func (r *Requester) ID() string { return r.source }

func (r *Requester) Tier() domain.SourceTier { return r.tier }

// Available reports whether the source's breaker would let a call through.
func (r *Requester) Available() bool { return r.breaker.Available() }

func (r *Requester) Health() domain.SourceHealth {
	h := r.breaker.Health()
	h.Tier = r.tier
	return h
}

// Get fetches url, retrying transient failures with exponential backoff and
// jitter. Permanent failures and an open breaker return immediately.
func (r *Requester) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	if r.retry.InitialBackoff > 0 {
		b.InitialInterval = r.retry.InitialBackoff
	}
	if r.retry.MaxBackoff > 0 {
		b.MaxInterval = r.retry.MaxBackoff
	}
	if r.retry.Multiplier > 1 {
		b.Multiplier = r.retry.Multiplier
	}
	if r.retry.Jitter >= 0 && r.retry.Jitter <= 1 {
		b.RandomizationFactor = r.retry.Jitter
	}
	tries := r.retry.MaxRetries + 1
	if tries < 1 {
		tries = 1
	}

	op := func() (*Response, error) {
		if err := r.limiter.Acquire(ctx, r.source); err != nil {
			r.metrics.SourceRequest(r.source, "cancelled")
			return nil, backoff.Permanent(err)
		}
		var resp *Response
		err := r.breaker.Execute(func() error {
			var err error
			resp, err = r.do(ctx, url, header)
			return err
		})
		switch {
		case err == nil:
			r.metrics.SourceRequest(r.source, "ok")
			return resp, nil
		case errors.Is(err, ErrBreakerOpen):
			r.metrics.SourceRequest(r.source, "breaker_open")
			return nil, backoff.Permanent(err)
		case ctx.Err() != nil:
			r.metrics.SourceRequest(r.source, "cancelled")
			return nil, backoff.Permanent(err)
		case !IsTransient(err):
			r.metrics.SourceRequest(r.source, "permanent")
			return nil, backoff.Permanent(err)
		}
		r.metrics.SourceRequest(r.source, "transient")
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("source", r.source).Dur("retry_in", next).Msg("retrying source call")
		}),
	)
}

func (r *Requester) do(ctx context.Context, url string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", r.source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Source: r.source, StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

type fetchFunc func(ctx context.Context, asset domain.Asset) ([]domain.FieldCandidate, error)

// collect runs fetch under the per-source timeout. Failures are logged and
// turn into an empty (or partial) candidate list; they never reach the caller.
func (r *Requester) collect(ctx context.Context, asset domain.Asset, fetch fetchFunc) []domain.FieldCandidate {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	candidates, err := fetch(ctx, asset)
	if err != nil {
		ev := log.Warn()
		switch {
		case errors.Is(err, ErrBreakerOpen):
			ev = log.Info()
		case !IsTransient(err):
			ev = log.Error()
		}
		ev.Err(err).
			Str("source", r.source).
			Str("symbol", asset.Symbol).
			Int("partial_fields", len(candidates)).
			Msg("source returned no data")
	}
	return r.sanitize(asset, candidates)
}

// sanitize drops values the source cannot supply for the asset's class and
// stamps the source id.
func (r *Requester) sanitize(asset domain.Asset, candidates []domain.FieldCandidate) []domain.FieldCandidate {
	out := make([]domain.FieldCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Field.AppliesTo(asset.Network) || !finite(c.Value) {
			continue
		}
		c.Source = r.source
		c.IsEstimate = false
		out = append(out, c)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
