package notify

import (
	"context"
	"log/slog"
	"time"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/notifier"
	"catchup-pipeline/internal/repository"
)

// Deliverer drains the persisted notification queue: it renders each
// pending entry's story snapshot into an alert, dispatches it across the
// channels, and marks the entry delivered or failed. Because entries are
// dedupe-keyed per breaking episode, redelivery after a crash cannot
// double-enqueue an episode that already notified.
type Deliverer struct {
	notifications repository.NotificationRepository
	service       Service
	interval      time.Duration
	batch         int
	logger        *slog.Logger
}

// NewDeliverer wires the queue drain loop.
func NewDeliverer(notifications repository.NotificationRepository, service Service, interval time.Duration, logger *slog.Logger) *Deliverer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Deliverer{
		notifications: notifications,
		service:       service,
		interval:      interval,
		batch:         50,
		logger:        logger,
	}
}

// Run drains pending entries until ctx is canceled.
func (d *Deliverer) Run(ctx context.Context) error {
	d.logger.Info("notification deliverer started", slog.Duration("interval", d.interval))

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce processes one batch of pending entries.
func (d *Deliverer) DrainOnce(ctx context.Context) {
	pending, err := d.notifications.FindPending(ctx, d.batch)
	if err != nil {
		d.logger.Error("pending scan failed", slog.Any("error", err))
		return
	}

	for _, entry := range pending {
		d.deliver(ctx, entry)
	}
}

func (d *Deliverer) deliver(ctx context.Context, entry *entity.NotificationQueueEntry) {
	logger := d.logger.With(
		slog.String("entry_id", entry.EntryID),
		slog.String("story_id", entry.StoryID))

	alert := &notifier.Alert{
		StoryID:     entry.StoryID,
		EpisodeID:   entry.EpisodeID,
		Headline:    entry.Payload.Headline,
		Category:    string(entry.Payload.Category),
		SourceCount: entry.Payload.SourceCount,
		Summary:     entry.Payload.Summary,
		TopSources:  entry.Payload.TopSources,
	}

	if err := d.service.Dispatch(ctx, alert); err != nil {
		logger.Warn("alert dispatch failed", slog.Any("error", err))
		if markErr := d.notifications.MarkFailed(ctx, entry.EntryID, err.Error()); markErr != nil {
			logger.Error("mark failed errored", slog.Any("error", markErr))
		}
		return
	}

	if err := d.notifications.MarkDelivered(ctx, entry.EntryID); err != nil {
		logger.Error("mark delivered errored", slog.Any("error", err))
		return
	}
	logger.Info("breaking alert delivered", slog.Int("episode_id", entry.EpisodeID))
}
