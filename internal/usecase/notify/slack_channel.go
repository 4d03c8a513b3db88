package notify

import (
	"context"

	"catchup-pipeline/internal/infra/notifier"
)

// SlackChannel implements the Channel interface for Slack alerts, wrapping
// the SlackNotifier from the infrastructure layer.
type SlackChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewSlackChannel creates a Slack channel. When Slack is disabled a
// NoOpNotifier backs the channel so the Channel contract always holds.
func NewSlackChannel(config notifier.SlackConfig) *SlackChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewSlackNotifier(config)
	} else {
		n = notifier.NewNoOpNotifier()
	}
	return &SlackChannel{notifier: n, enabled: config.Enabled}
}

// Name returns the channel identifier "slack".
func (c *SlackChannel) Name() string {
	return "slack"
}

// IsEnabled returns whether Slack alerts are enabled via configuration.
func (c *SlackChannel) IsEnabled() bool {
	return c.enabled
}

// Send delivers one breaking alert to Slack.
func (c *SlackChannel) Send(ctx context.Context, alert *notifier.Alert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return c.notifier.NotifyBreaking(ctx, alert)
}
