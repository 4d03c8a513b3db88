// Package notifier provides webhook senders for breaking-news alerts.
// It defines the Notifier interface which allows different delivery
// mechanisms (Discord, Slack, etc.) to be used interchangeably through
// dependency injection.
//
// The package includes implementations for Discord and Slack webhooks and
// a no-op notifier for when notifications are disabled.
package notifier

import "context"

// Alert is the outbound rendering of one breaking-story notification.
type Alert struct {
	StoryID     string
	EpisodeID   int
	Headline    string
	Category    string
	SourceCount int
	Summary     string
	TopSources  []string
}

// Notifier is an interface for sending breaking-news alerts.
// Implementations should handle rate limiting, retries, and error logging internally.
type Notifier interface {
	// NotifyBreaking sends one breaking-news alert.
	//
	// Implementations should:
	//   - Generate a unique request ID for tracing
	//   - Apply rate limiting to prevent API abuse
	//   - Retry transient failures after a backoff delay
	//   - Log all attempts with the request ID for debugging
	//   - Respect context cancellation
	//
	// Returns a non-nil error if the alert failed after all retry
	// attempts.
	NotifyBreaking(ctx context.Context, alert *Alert) error
}
