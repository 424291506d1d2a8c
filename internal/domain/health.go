package domain

import "time"

// BreakerState is the circuit breaker state of one source.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// SourceHealth is a point-in-time view of one source's breaker.
type SourceHealth struct {
	Source              string       `json:"source"`
	Tier                SourceTier   `json:"tier"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailure         *time.Time   `json:"last_failure,omitempty"`
	LastSuccess         *time.Time   `json:"last_success,omitempty"`
}

// CycleResult summarizes one collection cycle.
type CycleResult struct {
	CycleID     string        `json:"cycle_id"`
	Bucket      time.Time     `json:"bucket"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Assets      int           `json:"assets"`
	Written     int           `json:"written"`
	Flagged     int           `json:"flagged"`
	Abandoned   int           `json:"abandoned"`
	Failed      int           `json:"failed"`
	SourceSkips int           `json:"source_skips"`
	Errors      []string      `json:"errors,omitempty"`

	// Records are the merged rows as stored.
	Records []MetricRecord `json:"-"`
}
