package summarize

import (
	"context"
	"log/slog"
	"time"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/llm"
	"catchup-pipeline/internal/observability/metrics"
)

// runBatchLoop collects stories needing summaries on a timer and submits
// them as one bulk request, amortizing per-item cost.
func (s *Service) runBatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runBatchOnce(ctx)
		}
	}
}

func (s *Service) runBatchOnce(ctx context.Context) {
	stories, err := s.stories.FindNeedingSummary(ctx, s.cfg.BatchLimit)
	if err != nil {
		s.logger.Error("batch collection failed", slog.Any("error", err))
		return
	}

	// Urgent stories belong to the realtime path; debounce the rest so a
	// story still accreting sources is not summarized mid-burst.
	cutoff := time.Now().UTC().Add(-time.Minute)
	byID := make(map[string]*entity.Story)
	var prompts []llm.BatchPrompt
	for _, story := range stories {
		if needsRealtime(story) || story.UpdatedAt.After(cutoff) {
			continue
		}
		prefix, prompt := BuildPrompt(story)
		prompts = append(prompts, llm.BatchPrompt{
			CustomID:        story.StoryID,
			CacheablePrefix: prefix,
			Prompt:          prompt,
		})
		byID[story.StoryID] = story
	}
	if len(prompts) == 0 {
		return
	}

	s.logger.Info("submitting summary batch", slog.Int("stories", len(prompts)))
	s.submitWithSplitting(ctx, prompts, byID, 0)
}

// submitWithSplitting submits a batch; persistent submission failure splits
// the batch in half and retries each half, isolating a poison item instead
// of losing the whole batch.
func (s *Service) submitWithSplitting(ctx context.Context, prompts []llm.BatchPrompt, byID map[string]*entity.Story, depth int) {
	const maxDepth = 4

	batchID, err := s.batch.SubmitBatch(ctx, prompts)
	if err != nil {
		if len(prompts) > 1 && depth < maxDepth {
			s.logger.Warn("batch submission failed, splitting",
				slog.Int("items", len(prompts)),
				slog.Any("error", err))
			mid := len(prompts) / 2
			s.submitWithSplitting(ctx, prompts[:mid], byID, depth+1)
			s.submitWithSplitting(ctx, prompts[mid:], byID, depth+1)
			return
		}
		s.logger.Error("batch submission failed", slog.Any("error", err))
		return
	}

	s.awaitBatch(ctx, batchID, byID)
}

func (s *Service) awaitBatch(ctx context.Context, batchID string, byID map[string]*entity.Story) {
	deadline := time.Now().Add(s.cfg.BatchPollTimeout)

	for {
		status, err := s.batch.PollBatch(ctx, batchID)
		if err != nil {
			s.logger.Error("batch poll failed",
				slog.String("batch_id", batchID),
				slog.Any("error", err))
			return
		}
		switch status {
		case llm.BatchCompleted:
			s.applyBatchResults(ctx, batchID, byID)
			return
		case llm.BatchFailed:
			s.logger.Error("batch failed", slog.String("batch_id", batchID))
			return
		}
		if time.Now().After(deadline) {
			s.logger.Error("batch timed out", slog.String("batch_id", batchID))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.BatchPollInterval):
		}
	}
}

func (s *Service) applyBatchResults(ctx context.Context, batchID string, byID map[string]*entity.Story) {
	results, err := s.batch.FetchBatchResults(ctx, batchID)
	if err != nil {
		s.logger.Error("batch results fetch failed",
			slog.String("batch_id", batchID),
			slog.Any("error", err))
		return
	}

	start := time.Now()
	applied := 0
	for _, result := range results {
		story, ok := byID[result.CustomID]
		if !ok {
			continue
		}
		resp := result.Response
		if resp.Kind == llm.KindTransient || resp.Kind == llm.KindRateLimited {
			// The story stays summary-stale and returns in a later batch.
			metrics.RecordSummary("batch", "failure", 0)
			s.recordOutcome(false)
			continue
		}

		s.recordCost(ctx, story.StoryID, s.batch.ModelID(), entity.PathBatch, resp.Usage)
		if err := s.applyResponse(ctx, story.StoryID, string(story.Category), &resp, entity.PathBatch, s.batch.ModelID()); err != nil {
			metrics.RecordSummary("batch", "failure", 0)
			s.recordOutcome(false)
			s.logger.Error("apply batch summary failed",
				slog.String("story_id", story.StoryID),
				slog.Any("error", err))
			continue
		}

		outcome := "success"
		if resp.Kind == llm.KindRefusal {
			outcome = "fallback"
		}
		metrics.RecordSummary("batch", outcome, time.Since(start))
		s.recordOutcome(true)
		applied++
	}

	s.logger.Info("batch applied",
		slog.String("batch_id", batchID),
		slog.Int("applied", applied),
		slog.Int("results", len(results)))
}
