package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"onchain-collector/internal/domain"
)

// ErrBreakerOpen is returned without calling the source while its breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before a trial call.
	RecoveryTimeout time.Duration
	// IsFailure decides whether an error counts against the source. Errors it
	// rejects are treated as a healthy response.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(source string, from, to domain.BreakerState)
}

// CircuitBreaker tracks the health of one source.
type CircuitBreaker struct {
	mu sync.Mutex

	source string
	config BreakerConfig
	now    func() time.Time

	state         domain.BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
	lastFailure   time.Time
	lastSuccess   time.Time
}

func NewCircuitBreaker(source string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		source: source,
		config: config,
		now:    time.Now,
		state:  domain.BreakerClosed,
	}
}

// Execute runs call unless the breaker is open. Exactly one call is let
// through while half-open; its outcome closes or reopens the breaker.
func (cb *CircuitBreaker) Execute(call func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := call()
	switch {
	case errors.Is(err, context.Canceled):
		cb.release()
	case err != nil && cb.config.IsFailure(err):
		cb.recordFailure()
	default:
		cb.recordSuccess()
	}
	return err
}

// Available reports whether a call would currently be attempted. It does not
// change state.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case domain.BreakerOpen:
		return cb.now().Sub(cb.openedAt) >= cb.config.RecoveryTimeout
	case domain.BreakerHalfOpen:
		return !cb.trialInFlight
	}
	return true
}

// Health returns a snapshot of the breaker.
func (cb *CircuitBreaker) Health() domain.SourceHealth {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	h := domain.SourceHealth{
		Source:              cb.source,
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
	}
	if !cb.lastFailure.IsZero() {
		t := cb.lastFailure
		h.LastFailure = &t
	}
	if !cb.lastSuccess.IsZero() {
		t := cb.lastSuccess
		h.LastSuccess = &t
	}
	return h
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	var from domain.BreakerState
	changed := false
	defer func() {
		cb.mu.Unlock()
		if changed {
			cb.notify(from, domain.BreakerHalfOpen)
		}
	}()

	switch cb.state {
	case domain.BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			return ErrBreakerOpen
		}
		from, changed = cb.state, true
		cb.state = domain.BreakerHalfOpen
		cb.trialInFlight = true
		return nil
	case domain.BreakerHalfOpen:
		if cb.trialInFlight {
			return ErrBreakerOpen
		}
		cb.trialInFlight = true
		return nil
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.lastSuccess = cb.now()
	if from == domain.BreakerOpen {
		// a call admitted before the breaker opened; the trial decides
		cb.mu.Unlock()
		return
	}
	cb.failures = 0
	cb.trialInFlight = false
	cb.state = domain.BreakerClosed
	cb.mu.Unlock()

	if from != domain.BreakerClosed {
		cb.notify(from, domain.BreakerClosed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	from := cb.state
	now := cb.now()
	cb.lastFailure = now
	cb.failures++
	cb.trialInFlight = false

	opened := false
	switch cb.state {
	case domain.BreakerHalfOpen:
		cb.state = domain.BreakerOpen
		cb.openedAt = now
		opened = true
	case domain.BreakerClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = domain.BreakerOpen
			cb.openedAt = now
			opened = true
		}
	}
	cb.mu.Unlock()

	if opened {
		cb.notify(from, domain.BreakerOpen)
	}
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.trialInFlight = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) notify(from, to domain.BreakerState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.source, from, to)
	}
}
