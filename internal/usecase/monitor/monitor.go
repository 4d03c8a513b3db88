// Package monitor implements the breaking-news monitor: a timer-driven
// scan that promotes high-velocity verified stories to breaking, enqueues
// at-most-one notification per breaking episode, demotes stories that go
// quiet, and archives stale ones.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/repository"
)

// Config holds the monitor's tunables.
type Config struct {
	// Schedule is the scan cadence as a cron expression.
	Schedule string

	// BreakingWindow is the velocity measurement window.
	BreakingWindow time.Duration

	// BreakingThreshold is the distinct-source velocity that promotes a
	// VERIFIED story to BREAKING.
	BreakingThreshold int

	// Cooldown demotes a BREAKING story that has gone quiet.
	Cooldown time.Duration

	// ArchiveAge archives VERIFIED stories with no updates.
	ArchiveAge time.Duration
}

// DefaultConfig returns the monitor defaults: scan every 2 minutes,
// promote at 4 sources in 30 minutes, demote after 4 quiet hours, archive
// after 7 quiet days.
func DefaultConfig() Config {
	return Config{
		Schedule:          "*/2 * * * *",
		BreakingWindow:    30 * time.Minute,
		BreakingThreshold: 4,
		Cooldown:          4 * time.Hour,
		ArchiveAge:        7 * 24 * time.Hour,
	}
}

// Monitor runs the periodic scan.
type Monitor struct {
	stories       repository.StoryRepository
	notifications repository.NotificationRepository
	cfg           Config
	logger        *slog.Logger
}

func NewMonitor(stories repository.StoryRepository, notifications repository.NotificationRepository, cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		stories:       stories,
		notifications: notifications,
		cfg:           cfg,
		logger:        logger,
	}
}

// Run schedules Tick on the configured cron cadence until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(m.cfg.Schedule, func() {
		if err := m.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("monitor tick failed", slog.Any("error", err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.cfg.Schedule, err)
	}

	m.logger.Info("breaking monitor started", slog.String("schedule", m.cfg.Schedule))
	scheduler.Start()
	<-ctx.Done()

	stop := scheduler.Stop()
	<-stop.Done()
	return ctx.Err()
}

// Tick runs one full scan: promotions, demotions, then archiving.
func (m *Monitor) Tick(ctx context.Context) error {
	now := time.Now().UTC()

	if err := m.promote(ctx, now); err != nil {
		return err
	}
	if err := m.demote(ctx, now); err != nil {
		return err
	}
	return m.archive(ctx, now)
}

// promote raises VERIFIED stories whose velocity clears the threshold and
// enqueues one notification per breaking episode.
func (m *Monitor) promote(ctx context.Context, now time.Time) error {
	verified, err := m.stories.FindByStatus(ctx, entity.StatusVerified)
	if err != nil {
		return fmt.Errorf("promote scan: %w", err)
	}

	for _, story := range verified {
		velocity := story.SourcesAddedSince(now.Add(-m.cfg.BreakingWindow))
		if velocity < m.cfg.BreakingThreshold {
			continue
		}

		updated, err := m.updateStory(ctx, story, func(s *entity.Story) bool {
			if s.Status != entity.StatusVerified {
				return false
			}
			s.Status = entity.StatusBreaking
			s.EpisodeID++
			s.PromotedAt = &now
			s.BreakingNewsSentAt = &now
			s.UpdatedAt = now
			return true
		})
		if err != nil {
			m.logger.Error("promotion failed",
				slog.String("story_id", story.StoryID),
				slog.Any("error", err))
			continue
		}
		if updated == nil {
			continue
		}

		metrics.RecordStatusTransition(string(entity.StatusVerified), string(entity.StatusBreaking))
		m.logger.Info("story promoted to breaking",
			slog.String("story_id", updated.StoryID),
			slog.Int("velocity", velocity),
			slog.Int("episode", updated.EpisodeID))

		// The repository dedupes on (story, episode), making redundant
		// ticks and replica races harmless.
		entry := &entity.NotificationQueueEntry{
			StoryID:   updated.StoryID,
			EpisodeID: updated.EpisodeID,
			Reason:    entity.ReasonBreakingPromotion,
			Status:    entity.NotificationPending,
			Payload:   buildPayload(updated),
			CreatedAt: now,
		}
		if err := m.notifications.Enqueue(ctx, entry); err != nil {
			m.logger.Error("notification enqueue failed",
				slog.String("story_id", updated.StoryID),
				slog.Any("error", err))
			metrics.RecordBreakingPromotion(false)
			continue
		}
		metrics.RecordBreakingPromotion(true)
	}
	return nil
}

// buildPayload snapshots the story for delivery, so the deliverer never
// needs to read the story back.
func buildPayload(story *entity.Story) entity.NotificationPayload {
	payload := entity.NotificationPayload{
		Headline:    story.Title,
		Category:    story.Category,
		SourceCount: story.DistinctSourceCount(),
	}
	if story.Summary != nil {
		payload.Summary = story.Summary.Text
	}
	for i, src := range story.Sources {
		if i == 3 {
			break
		}
		payload.TopSources = append(payload.TopSources, src.SourceID)
	}
	return payload
}

// demote returns quiet BREAKING stories to VERIFIED, ending their episode.
func (m *Monitor) demote(ctx context.Context, now time.Time) error {
	breaking, err := m.stories.FindByStatus(ctx, entity.StatusBreaking)
	if err != nil {
		return fmt.Errorf("demote scan: %w", err)
	}

	for _, story := range breaking {
		if !story.EligibleForDemotion(now, m.cfg.Cooldown) {
			continue
		}
		updated, err := m.updateStory(ctx, story, func(s *entity.Story) bool {
			if s.Status != entity.StatusBreaking || !s.EligibleForDemotion(now, m.cfg.Cooldown) {
				return false
			}
			s.Status = entity.StatusVerified
			s.DemotedAt = &now
			s.UpdatedAt = now
			return true
		})
		if err != nil {
			m.logger.Error("demotion failed",
				slog.String("story_id", story.StoryID),
				slog.Any("error", err))
			continue
		}
		if updated != nil {
			metrics.RecordStatusTransition(string(entity.StatusBreaking), string(entity.StatusVerified))
			m.logger.Info("story demoted", slog.String("story_id", updated.StoryID))
		}
	}
	return nil
}

// archive retires VERIFIED stories with no recent updates. BREAKING
// stories never archive.
func (m *Monitor) archive(ctx context.Context, now time.Time) error {
	verified, err := m.stories.FindByStatus(ctx, entity.StatusVerified)
	if err != nil {
		return fmt.Errorf("archive scan: %w", err)
	}

	for _, story := range verified {
		if !story.EligibleForArchive(now, m.cfg.ArchiveAge) {
			continue
		}
		updated, err := m.updateStory(ctx, story, func(s *entity.Story) bool {
			if !s.EligibleForArchive(now, m.cfg.ArchiveAge) {
				return false
			}
			s.Status = entity.StatusArchived
			s.UpdatedAt = now
			return true
		})
		if err != nil {
			m.logger.Error("archive failed",
				slog.String("story_id", story.StoryID),
				slog.Any("error", err))
			continue
		}
		if updated != nil {
			metrics.RecordStatusTransition(string(entity.StatusVerified), string(entity.StatusArchived))
			m.logger.Info("story archived", slog.String("story_id", updated.StoryID))
		}
	}
	return nil
}

// updateStory applies mutate under the etag-guarded read-modify-write
// loop. mutate returning false aborts (another replica already acted).
// The returned story is nil when no write happened.
func (m *Monitor) updateStory(ctx context.Context, story *entity.Story, mutate func(*entity.Story) bool) (*entity.Story, error) {
	const maxAttempts = 5
	backoff := 100 * time.Millisecond

	current := story
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !mutate(current) {
			return nil, nil
		}
		_, err := m.stories.Replace(ctx, current, current.ETag)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, repository.ErrETagMismatch) {
			return nil, err
		}
		metrics.RecordStoreConflict("stories")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		fresh, _, err := m.stories.Read(ctx, current.StoryID, string(current.Category))
		if err != nil {
			return nil, err
		}
		current = fresh
	}
	return nil, fmt.Errorf("update %s: too many etag conflicts", story.StoryID)
}
