// Package notify dispatches breaking-news alerts across delivery channels.
// It drains the persisted notification queue written by the breaking
// monitor and fans each entry out to the enabled channels (Discord, Slack,
// etc.) with per-channel circuit breakers and a bounded worker pool.
package notify

import (
	"context"

	"catchup-pipeline/internal/infra/notifier"
)

// Channel represents a notification delivery channel (Discord, Slack, etc.).
// Each channel implementation handles its own rate limiting, retries, and
// error handling.
//
// Retry Policy Contract:
//   - Transient failures (5xx, network errors): Retry after a backoff delay (max 2 attempts)
//   - Rate limits (429): Sleep for retry_after duration, then retry
//   - Client errors (4xx except 429): No retry
//   - Context timeout: No retry
//
// Thread Safety:
//   - All methods must be safe for concurrent use by multiple goroutines
type Channel interface {
	// Name returns the channel identifier (lowercase, alphanumeric),
	// used for logging, metrics, and health check endpoints.
	Name() string

	// IsEnabled returns true if this channel is enabled via configuration.
	// Disabled channels are skipped during dispatching.
	IsEnabled() bool

	// Send delivers one breaking-news alert to this channel. It must
	// respect context cancellation and return a non-nil error only after
	// its internal retry budget is exhausted.
	Send(ctx context.Context, alert *notifier.Alert) error
}
