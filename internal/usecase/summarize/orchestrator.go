package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/llm"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/observability/slo"
	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/utils/text"
	"catchup-pipeline/pkg/ratelimit"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// Enabled gates the whole component; when false the consumer drains
	// events without calling any model.
	Enabled bool

	// Workers bounds the realtime LLM call pool, capping concurrent spend.
	Workers int

	// MinGap is the per-story floor between headline re-evaluations.
	MinGap time.Duration

	// BatchInterval is the batch path's collection period.
	BatchInterval time.Duration

	// BatchLimit bounds one bulk submission.
	BatchLimit int

	// BatchPollInterval and BatchPollTimeout drive result polling.
	BatchPollInterval time.Duration
	BatchPollTimeout  time.Duration

	// AuditEnabled appends every summary version to the audit log.
	AuditEnabled bool

	// SynthesisAttempts bounds realtime retries before deferring to batch.
	SynthesisAttempts int
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Workers:           4,
		MinGap:            30 * time.Second,
		BatchInterval:     10 * time.Minute,
		BatchLimit:        100,
		BatchPollInterval: 30 * time.Second,
		BatchPollTimeout:  6 * time.Hour,
		SynthesisAttempts: 3,
	}
}

// Service orchestrates summary synthesis over the story change stream.
type Service struct {
	stories     repository.StoryRepository
	costs       repository.CostLogRepository
	audits      repository.SummaryAuditRepository
	deadLetters repository.DeadLetterRepository
	realtime    llm.Client
	batch       llm.BatchClient
	cfg         Config
	logger      *slog.Logger

	// gate enforces MinGap per story across both paths.
	gate      *ratelimit.SlidingWindowAlgorithm
	gateStore ratelimit.RateLimitStore

	// work feeds the realtime pool; sends never block the change stream.
	work chan *entity.Story

	// failure tracking behind the summarization error-rate gauge.
	attempts atomic.Int64
	failures atomic.Int64
}

// NewService wires the orchestrator. audits may be nil when the audit log
// is disabled.
func NewService(
	stories repository.StoryRepository,
	costs repository.CostLogRepository,
	audits repository.SummaryAuditRepository,
	deadLetters repository.DeadLetterRepository,
	realtime llm.Client,
	batch llm.BatchClient,
	cfg Config,
	logger *slog.Logger,
) *Service {
	return &Service{
		stories:     stories,
		costs:       costs,
		audits:      audits,
		deadLetters: deadLetters,
		realtime:    realtime,
		batch:       batch,
		cfg:         cfg,
		logger:      logger,
		gate:        ratelimit.NewSlidingWindowAlgorithm(nil),
		gateStore:   ratelimit.NewInMemoryRateLimitStore(ratelimit.DefaultInMemoryStoreConfig()),
		work:        make(chan *entity.Story, 64),
	}
}

// needsRealtime reports whether a story update warrants immediate
// synthesis: verified-or-breaking, and either never summarized or extended
// by a source since the last summary.
func needsRealtime(story *entity.Story) bool {
	if story.Status != entity.StatusVerified && story.Status != entity.StatusBreaking {
		return false
	}
	if story.Summary == nil {
		return true
	}
	return story.LastSourceAt.After(story.Summary.GeneratedAt)
}

// Run starts the change-stream consumer, the realtime worker pool, and the
// batch timer, and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("summarization disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(ctx)
	}
	go s.runBatchLoop(ctx)

	return s.consume(ctx)
}

func (s *Service) consume(ctx context.Context) error {
	consumer, err := s.stories.ChangeStream(ctx, "summarization")
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = consumer.Close(closeCtx)
	}()

	s.logger.Info("summarization consumer started")

	for {
		event, err := consumer.Next(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if err != nil {
			s.logger.Error("story stream read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if event.Story != nil && !event.Deleted && needsRealtime(event.Story) {
			// The pool must never block the stream: when it is saturated
			// the story simply waits for the batch path.
			select {
			case s.work <- event.Story:
				metrics.SetQueueDepth("llm", len(s.work))
			default:
				s.logger.Debug("realtime pool saturated, deferring to batch",
					slog.String("story_id", event.Story.StoryID))
			}
		}

		if err := consumer.Checkpoint(ctx, event.SequenceID); err != nil {
			s.logger.Error("checkpoint failed", slog.Any("error", err))
		}
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case story := <-s.work:
			s.synthesizeRealtime(ctx, story)
			metrics.SetQueueDepth("llm", len(s.work))
		}
	}
}

// allowedNow applies the per-story minimum re-evaluation gap.
func (s *Service) allowedNow(ctx context.Context, storyID string) bool {
	decision, err := s.gate.IsAllowed(ctx, storyID, s.gateStore, 1, s.cfg.MinGap)
	if err != nil {
		return true
	}
	return decision.IsAllowed()
}

func (s *Service) synthesizeRealtime(ctx context.Context, story *entity.Story) {
	logger := s.logger.With(slog.String("story_id", story.StoryID), slog.String("path", "realtime"))

	if !s.allowedNow(ctx, story.StoryID) {
		metrics.RecordHeadlineEvaluation("rate_limited")
		logger.Debug("synthesis gated by per-story minimum gap")
		return
	}

	prefix, prompt := BuildPrompt(story)
	start := time.Now()

	var resp *llm.Response
	for attempt := 1; attempt <= s.cfg.SynthesisAttempts; attempt++ {
		var err error
		resp, err = s.realtime.Synthesize(ctx, llm.Request{CacheablePrefix: prefix, Prompt: prompt})
		if err != nil {
			logger.Error("synthesis call failed", slog.Any("error", err))
			s.recordOutcome(false)
			return
		}
		if resp.Kind == llm.KindTransient {
			logger.Warn("transient synthesis failure",
				slog.Int("attempt", attempt),
				slog.Any("error", resp.Err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
			continue
		}
		if resp.Kind == llm.KindRateLimited {
			logger.Warn("synthesis rate limited",
				slog.Duration("retry_after", resp.RetryAfter))
			select {
			case <-ctx.Done():
				return
			case <-time.After(resp.RetryAfter):
			}
			continue
		}
		break
	}
	if resp == nil || resp.Kind == llm.KindTransient || resp.Kind == llm.KindRateLimited {
		// Exhausted the realtime budget; the batch path will pick the
		// story up on its next collection.
		metrics.RecordSummary("realtime", "failure", time.Since(start))
		s.recordOutcome(false)
		logger.Warn("realtime synthesis deferred to batch")
		return
	}

	s.recordCost(ctx, story.StoryID, s.realtime.ModelID(), entity.PathRealtime, resp.Usage)

	if err := s.applyResponse(ctx, story.StoryID, string(story.Category), resp, entity.PathRealtime, s.realtime.ModelID()); err != nil {
		metrics.RecordSummary("realtime", "failure", time.Since(start))
		s.recordOutcome(false)
		s.deadLetterApply(ctx, story.StoryID, err)
		logger.Error("apply summary failed", slog.Any("error", err))
		return
	}

	result := "success"
	if resp.Kind == llm.KindRefusal {
		result = "fallback"
	}
	metrics.RecordSummary("realtime", result, time.Since(start))
	s.recordOutcome(true)
}

// applyResponse folds a synthesis result into the story under the
// etag-guarded read-modify-write loop. Summary versions only move forward,
// and a KEEP_CURRENT headline leaves the title untouched.
func (s *Service) applyResponse(ctx context.Context, storyID, category string, resp *llm.Response, path entity.SummaryPath, model string) error {
	const maxAttempts = 5
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		story, etag, err := s.stories.Read(ctx, storyID, category)
		if err != nil {
			return fmt.Errorf("read story: %w", err)
		}

		changed, err := s.fold(story, resp, path, model)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		_, err = s.stories.Replace(ctx, story, etag)
		if err == nil {
			if s.cfg.AuditEnabled && s.audits != nil && story.Summary != nil {
				s.appendAudit(ctx, story)
			}
			return nil
		}
		if !errors.Is(err, repository.ErrETagMismatch) {
			return fmt.Errorf("replace story: %w", err)
		}
		metrics.RecordStoreConflict("stories")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("apply summary to %s: too many etag conflicts", storyID)
}

// fold mutates the story with the synthesis outcome and reports whether a
// write is needed.
func (s *Service) fold(story *entity.Story, resp *llm.Response, path entity.SummaryPath, model string) (bool, error) {
	now := time.Now().UTC()

	var headline, summaryText string
	fallback := false
	fallbackReason := ""

	if resp.Kind == llm.KindRefusal {
		// Extractive fallback: lead sentence of the earliest-attached
		// source, which carried the story first.
		headline = KeepCurrent
		summaryText = text.FirstSentence(fallbackSource(story))
		fallback = true
		fallbackReason = resp.RefusalReason
	} else {
		var err error
		headline, summaryText, err = ParseOutput(resp.Text)
		if err != nil {
			headline = KeepCurrent
			summaryText = text.FirstSentence(fallbackSource(story))
			fallback = true
			fallbackReason = fmt.Sprintf("unparseable reply: %v", err)
		}
	}

	changed := false

	bodyChanged := story.Summary == nil || story.Summary.Text != summaryText
	if bodyChanged {
		version := 1
		if story.Summary != nil {
			version = story.Summary.Version + 1
		}
		cost := llm.CostMicroUSD(model, resp.Usage, path == entity.PathBatch)
		story.Summary = &entity.Summary{
			Text:           summaryText,
			Headline:       story.Title,
			Version:        version,
			WordCount:      text.CountWords(summaryText),
			GeneratedAt:    now,
			Model:          model,
			CostMicroUSD:   cost,
			Fallback:       fallback,
			FallbackReason: fallbackReason,
		}
		changed = true
	}

	if headline != KeepCurrent && headline != "" && headline != story.Title {
		story.Title = headline
		if story.Summary != nil {
			story.Summary.Headline = headline
		}
		metrics.RecordHeadlineEvaluation("rewritten")
		changed = true
	} else if !fallback {
		metrics.RecordHeadlineEvaluation("kept")
	}

	if changed {
		story.UpdatedAt = now
	}
	return changed, nil
}

func fallbackSource(story *entity.Story) string {
	if len(story.Sources) == 0 {
		return story.Title
	}
	first := story.Sources[0]
	for _, src := range story.Sources[1:] {
		if src.AttachedAt.Before(first.AttachedAt) {
			first = src
		}
	}
	return first.Title
}

func (s *Service) recordCost(ctx context.Context, storyID, model string, path entity.SummaryPath, usage llm.Usage) {
	cost := llm.CostMicroUSD(model, usage, path == entity.PathBatch)
	entry := &entity.CostLogEntry{
		EntryID:      uuid.New().String(),
		StoryID:      storyID,
		Path:         path,
		Model:        model,
		InputTokens:  usage.InputTokens,
		CachedTokens: usage.CachedInputTokens,
		OutputTokens: usage.OutputTokens,
		CostMicroUSD: cost,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.costs.Append(ctx, entry); err != nil {
		s.logger.Error("cost log append failed", slog.Any("error", err))
	}
	metrics.RecordLLMUsage(model, string(path), usage.InputTokens, usage.CachedInputTokens, usage.OutputTokens, cost)
}

func (s *Service) appendAudit(ctx context.Context, story *entity.Story) {
	entry := &entity.SummaryAuditEntry{
		EntryID:   uuid.New().String(),
		StoryID:   story.StoryID,
		Version:   story.Summary.Version,
		Text:      story.Summary.Text,
		Headline:  story.Summary.Headline,
		Model:     story.Summary.Model,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Error("summary audit append failed", slog.Any("error", err))
	}
}

// deadLetterApply preserves a result that could not be folded into its
// story after exhausting retries.
func (s *Service) deadLetterApply(ctx context.Context, storyID string, cause error) {
	now := time.Now().UTC()
	entry := &entity.DeadLetterEntry{
		Source:       entity.DeadLetterSummarization,
		EventPayload: []byte(fmt.Sprintf(`{"story_id":%q}`, storyID)),
		Reason:       cause.Error(),
		Attempts:     1,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
	if err := s.deadLetters.Put(ctx, entry); err != nil {
		s.logger.Error("dead letter write failed", slog.Any("error", err))
	}
	metrics.RecordDeadLetter("summarization")
}

func (s *Service) recordOutcome(ok bool) {
	attempts := s.attempts.Add(1)
	failures := s.failures.Load()
	if !ok {
		failures = s.failures.Add(1)
	}
	slo.UpdateSummarizationErrorRate(float64(failures) / float64(attempts))
}
