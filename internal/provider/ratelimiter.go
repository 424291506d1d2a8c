package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces calls per source so that consecutive grants for the same
// source are at least that source's minimum interval apart.
type RateLimiter struct {
	mu              sync.Mutex
	limiters        map[string]*rate.Limiter
	defaultInterval time.Duration
}

// NewRateLimiter creates a limiter. Sources without an explicit interval use
// defaultInterval.
func NewRateLimiter(defaultInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters:        make(map[string]*rate.Limiter),
		defaultInterval: defaultInterval,
	}
}

// SetInterval configures the minimum spacing for a source.
func (r *RateLimiter) SetInterval(source string, minInterval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[source]; ok {
		l.SetLimit(limitFor(minInterval))
		return
	}
	r.limiters[source] = rate.NewLimiter(limitFor(minInterval), 1)
}

// Acquire blocks until the source may be called again or ctx is done. A caller
// whose context ends while waiting gives up its slot and does not push back
// later callers.
func (r *RateLimiter) Acquire(ctx context.Context, source string) error {
	return r.limiter(source).Wait(ctx)
}

func (r *RateLimiter) limiter(source string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[source]
	if !ok {
		l = rate.NewLimiter(limitFor(r.defaultInterval), 1)
		r.limiters[source] = l
	}
	return l
}

func limitFor(minInterval time.Duration) rate.Limit {
	if minInterval <= 0 {
		return rate.Inf
	}
	return rate.Every(minInterval)
}
