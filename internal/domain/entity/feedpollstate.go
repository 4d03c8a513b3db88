package entity

import "time"

// CircuitState mirrors the feed-level circuit breaker state persisted
// alongside poll history, independent of the in-process gobreaker instance
// so that state survives a process restart.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// FeedPollState tracks the conditional-GET and health bookkeeping for one
// feed between Feed Poller runs.
type FeedPollState struct {
	SourceID         string
	FeedURL          string
	ETag             string
	LastModified     string
	LastPolledAt     time.Time
	LastSuccessAt    time.Time
	ConsecutiveFails int
	CircuitState     CircuitState
	CircuitOpenedAt  *time.Time
	TotalFetched     int64
	Total304s        int64
	TotalErrors      int64
}

// ShouldSkip reports whether the poller should skip this feed because its
// circuit is open and the cooldown has not elapsed.
func (f *FeedPollState) ShouldSkip(now time.Time, cooldown time.Duration) bool {
	if f.CircuitState != CircuitOpen || f.CircuitOpenedAt == nil {
		return false
	}
	return now.Sub(*f.CircuitOpenedAt) < cooldown
}
