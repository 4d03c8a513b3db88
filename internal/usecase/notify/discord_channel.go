package notify

import (
	"context"

	"catchup-pipeline/internal/infra/notifier"
)

// DiscordChannel implements the Channel interface for Discord alerts. It
// wraps the DiscordNotifier from the infrastructure layer, which owns rate
// limiting and webhook retries.
type DiscordChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewDiscordChannel creates a Discord channel. When Discord is disabled a
// NoOpNotifier backs the channel so the Channel contract always holds.
func NewDiscordChannel(config notifier.DiscordConfig) *DiscordChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewDiscordNotifier(config)
	} else {
		n = notifier.NewNoOpNotifier()
	}
	return &DiscordChannel{notifier: n, enabled: config.Enabled}
}

// Name returns the channel identifier "discord".
func (c *DiscordChannel) Name() string {
	return "discord"
}

// IsEnabled returns whether Discord alerts are enabled via configuration.
func (c *DiscordChannel) IsEnabled() bool {
	return c.enabled
}

// Send delivers one breaking alert to Discord.
func (c *DiscordChannel) Send(ctx context.Context, alert *notifier.Alert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return c.notifier.NotifyBreaking(ctx, alert)
}
