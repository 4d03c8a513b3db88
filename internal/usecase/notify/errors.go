package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrChannelDisabled indicates that Send() was called on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrInvalidAlert indicates that the alert is nil or missing its
	// headline or story id.
	ErrInvalidAlert = errors.New("invalid alert data")

	// ErrCircuitBreakerOpen indicates that the circuit breaker is open for this channel
	// and alerts are being rejected to prevent continuous failures.
	// The circuit breaker will automatically close after the timeout period.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open for this channel")

	// ErrNoChannels indicates that dispatch ran with no enabled channels.
	ErrNoChannels = errors.New("no notification channels enabled")
)
