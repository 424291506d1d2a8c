package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"onchain-collector/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker("defillama", BreakerConfig{FailureThreshold: threshold, RecoveryTimeout: recovery})
	cb.now = clock.Now
	return cb, clock
}

var errUpstream = errors.New("upstream timeout")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(5, 60*time.Second)

	for i := 0; i < 5; i++ {
		if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if got := cb.Health().State; got != domain.BreakerOpen {
		t.Fatalf("expected open after 5 failures, got %s", got)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not invoke the call")
	}
	if cb.Available() {
		t.Fatal("open breaker must report unavailable before recovery")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errUpstream })
	if h := cb.Health(); h.State != domain.BreakerClosed || h.ConsecutiveFailures != 1 {
		t.Fatalf("expected closed with 1 failure, got %+v", h)
	}
}

func TestBreakerHalfOpenTrialCloses(t *testing.T) {
	cb, clock := newTestBreaker(2, 60*time.Second)
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })

	clock.Advance(59 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected fast-fail before recovery timeout, got %v", err)
	}

	clock.Advance(2 * time.Second)
	if !cb.Available() {
		t.Fatal("expected availability after recovery timeout")
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call should run, got %v", err)
	}
	if h := cb.Health(); h.State != domain.BreakerClosed || h.ConsecutiveFailures != 0 {
		t.Fatalf("expected closed and reset, got %+v", h)
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 10*time.Second)
	_ = cb.Execute(func() error { return errUpstream })
	clock.Advance(11 * time.Second)

	_ = cb.Execute(func() error { return errUpstream })
	if got := cb.Health().State; got != domain.BreakerOpen {
		t.Fatalf("failed trial must reopen, got %s", got)
	}

	clock.Advance(5 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("recovery timer must restart after failed trial, got %v", err)
	}
}

func TestBreakerHalfOpenAllowsExactlyOneTrial(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	_ = cb.Execute(func() error { return errUpstream })
	clock.Advance(2 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("second caller during trial must be rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := cb.Health().State; got != domain.BreakerClosed {
		t.Fatalf("expected closed after successful trial, got %s", got)
	}
}

func TestBreakerIgnoresNonFailuresAndCancellation(t *testing.T) {
	permanent := errors.New("404")
	clock := &fakeClock{now: time.Now()}
	cb := NewCircuitBreaker("coingecko", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, permanent) },
	})
	cb.now = clock.Now

	_ = cb.Execute(func() error { return permanent })
	_ = cb.Execute(func() error { return context.Canceled })
	if got := cb.Health().State; got != domain.BreakerClosed {
		t.Fatalf("non-failures must not open the breaker, got %s", got)
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []domain.BreakerState
	cb := NewCircuitBreaker("koios", BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		OnStateChange: func(_ string, _, to domain.BreakerState) {
			transitions = append(transitions, to)
		},
	})
	_ = cb.Execute(func() error { return errUpstream })
	time.Sleep(5 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })

	want := []domain.BreakerState{domain.BreakerOpen, domain.BreakerHalfOpen, domain.BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}
