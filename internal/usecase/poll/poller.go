package poll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/feedpoll"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/observability/slo"
	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/resilience/retry"
)

// Candidate is one feed entry paired with the feed it came from, queued for
// the Normalizer.
type Candidate struct {
	Item feedpoll.Item
	Feed FeedDescriptor
}

// Fetcher is the conditional-GET feed fetcher contract.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL, etag, lastModified string) (*feedpoll.Result, error)
}

// Config holds the poller's tunables. Defaults follow the component design.
type Config struct {
	// Concurrency bounds the parallel-fetch pool.
	Concurrency int

	// PollInterval is the cycle period.
	PollInterval time.Duration

	// FetchTimeout caps one feed fetch.
	FetchTimeout time.Duration

	// MaxStartsPerSecond staggers dispatch so a cycle does not burst all
	// feeds at once.
	MaxStartsPerSecond int

	// CircuitThreshold is the consecutive-failure count that opens a
	// feed's circuit.
	CircuitThreshold int

	// CircuitCooldown is the base open duration; re-opens back off
	// exponentially up to CircuitCooldownCap.
	CircuitCooldown    time.Duration
	CircuitCooldownCap time.Duration
}

// DefaultConfig returns the poller defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       5 * time.Minute,
		FetchTimeout:       30 * time.Second,
		MaxStartsPerSecond: 5,
		CircuitThreshold:   3,
		CircuitCooldown:    30 * time.Minute,
		CircuitCooldownCap: 4 * time.Hour,
	}
}

// Poller schedules and fetches the configured feeds, forwarding new entries
// into the normalizer queue. Dispatch blocks when the queue is full, so a
// slow Normalizer slows polling instead of dropping entries.
type Poller struct {
	feeds   []FeedDescriptor
	fetcher Fetcher
	states  repository.FeedPollStateRepository
	out     chan<- Candidate
	cfg     Config
	logger  *slog.Logger
	retry   retry.Config
}

// NewPoller wires the poller. out is the bounded normalizer queue owned by
// the caller.
func NewPoller(feeds []FeedDescriptor, fetcher Fetcher, states repository.FeedPollStateRepository, out chan<- Candidate, cfg Config, logger *slog.Logger) *Poller {
	return &Poller{
		feeds:   feeds,
		fetcher: fetcher,
		states:  states,
		out:     out,
		cfg:     cfg,
		logger:  logger,
		retry:   retry.FeedFetchConfig(),
	}
}

// Run polls every feed once per PollInterval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("feed poller started",
		slog.Int("feeds", len(p.feeds)),
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("interval", p.cfg.PollInterval))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Error("poll cycle failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("feed poller stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce dispatches one full poll cycle through the bounded worker pool.
// Feed starts are rate-limited so outbound load and Normalizer work spread
// across the cycle instead of bursting at its start.
func (p *Poller) RunOnce(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.cfg.Concurrency)

	limiter := rate.NewLimiter(rate.Limit(p.cfg.MaxStartsPerSecond), p.cfg.MaxStartsPerSecond)

	for _, feed := range p.feeds {
		feed := feed
		if err := limiter.Wait(groupCtx); err != nil {
			break
		}
		group.Go(func() error {
			p.pollFeed(groupCtx, feed)
			return nil
		})
	}

	err := group.Wait()
	p.updateAvailability(ctx)
	return err
}

// pollFeed runs the per-feed fetch protocol. Errors never propagate: one
// broken feed must not affect the rest of the cycle.
func (p *Poller) pollFeed(ctx context.Context, feed FeedDescriptor) {
	logger := p.logger.With(slog.String("feed_id", feed.FeedID))
	now := time.Now().UTC()

	state, err := p.states.Get(ctx, feed.FeedID)
	if errors.Is(err, entity.ErrNotFound) {
		state = &entity.FeedPollState{
			SourceID:     feed.FeedID,
			FeedURL:      feed.FeedURL,
			CircuitState: entity.CircuitClosed,
		}
	} else if err != nil {
		logger.Error("load poll state failed", slog.Any("error", err))
		return
	}

	if state.ShouldSkip(now, p.cooldownFor(state)) {
		metrics.RecordFeedFetch(feed.FeedID, "circuit_skip", 0)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	var result *feedpoll.Result
	fetchErr := retry.WithBackoff(fetchCtx, p.retry, func() error {
		var err error
		result, err = p.fetcher.Fetch(fetchCtx, feed.FeedURL, state.ETag, state.LastModified)
		return err
	})
	elapsed := time.Since(start)

	state.LastPolledAt = now

	switch {
	case fetchErr != nil:
		p.recordFailure(logger, feed, state, fetchErr, elapsed)
	case result.NotModified:
		state.Total304s++
		metrics.RecordFeedFetch(feed.FeedID, "not_modified", elapsed)
	default:
		state.ETag = result.ETag
		state.LastModified = result.LastModified
		state.LastSuccessAt = now
		state.ConsecutiveFails = 0
		state.CircuitState = entity.CircuitClosed
		state.CircuitOpenedAt = nil
		state.TotalFetched += int64(len(result.Items))
		metrics.RecordFeedFetch(feed.FeedID, "fetched", elapsed)

		emitted := p.emit(ctx, feed, result.Items)
		metrics.RecordEntriesEmitted(feed.FeedID, emitted)
		if emitted > 0 {
			logger.Info("feed entries emitted",
				slog.Int("entries", emitted),
				slog.Duration("duration", elapsed))
		}
	}

	if err := p.states.Upsert(ctx, state); err != nil {
		logger.Error("save poll state failed", slog.Any("error", err))
	}
}

func (p *Poller) recordFailure(logger *slog.Logger, feed FeedDescriptor, state *entity.FeedPollState, fetchErr error, elapsed time.Duration) {
	state.ConsecutiveFails++
	state.TotalErrors++
	metrics.RecordFeedFetch(feed.FeedID, "error", elapsed)

	var httpErr *retry.HTTPError
	if errors.As(fetchErr, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
		logger.Warn("feed rejected request",
			slog.Int("status", httpErr.StatusCode),
			slog.Int("consecutive_failures", state.ConsecutiveFails))
	} else {
		logger.Warn("feed fetch failed",
			slog.Any("error", fetchErr),
			slog.Int("consecutive_failures", state.ConsecutiveFails))
	}

	if state.ConsecutiveFails >= p.cfg.CircuitThreshold && state.CircuitState != entity.CircuitOpen {
		now := time.Now().UTC()
		state.CircuitState = entity.CircuitOpen
		state.CircuitOpenedAt = &now
		metrics.RecordCircuitBreak(feed.FeedID)
		logger.Warn("feed circuit opened",
			slog.Duration("cooldown", p.cooldownFor(state)))
	}
}

// cooldownFor doubles the base cooldown for every failure past the
// threshold, capped.
func (p *Poller) cooldownFor(state *entity.FeedPollState) time.Duration {
	cooldown := p.cfg.CircuitCooldown
	for extra := state.ConsecutiveFails - p.cfg.CircuitThreshold; extra > 0; extra-- {
		cooldown *= 2
		if cooldown >= p.cfg.CircuitCooldownCap {
			return p.cfg.CircuitCooldownCap
		}
	}
	return cooldown
}

// emit forwards items into the normalizer queue, blocking for back-pressure.
func (p *Poller) emit(ctx context.Context, feed FeedDescriptor, items []feedpoll.Item) int {
	emitted := 0
	for _, item := range items {
		select {
		case p.out <- Candidate{Item: item, Feed: feed}:
			emitted++
		case <-ctx.Done():
			return emitted
		}
		metrics.SetQueueDepth("normalizer", len(p.out))
	}
	return emitted
}

func (p *Poller) updateAvailability(ctx context.Context) {
	states, err := p.states.ListAll(ctx)
	if err != nil || len(p.feeds) == 0 {
		return
	}
	open := 0
	for _, state := range states {
		if state.CircuitState == entity.CircuitOpen {
			open++
		}
	}
	slo.UpdateFeedAvailability(float64(len(p.feeds)-open) / float64(len(p.feeds)))
}

// FeedStats is one feed's health snapshot for the /stats endpoint.
type FeedStats struct {
	FeedID           string     `json:"feed_id"`
	Fetched          int64      `json:"fetched"`
	NotModified      int64      `json:"304s"`
	Errors           int64      `json:"errors"`
	ConsecutiveFails int        `json:"consecutive_failures"`
	CircuitState     string     `json:"circuit_state"`
	CircuitOpenedAt  *time.Time `json:"circuit_opened_at,omitempty"`
	LastPolledAt     time.Time  `json:"last_polled_at"`
	LastSuccessAt    time.Time  `json:"last_success_at"`
}

// Stats reports per-feed counters plus the normalizer queue depth.
func (p *Poller) Stats(ctx context.Context) (map[string]any, error) {
	states, err := p.states.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	feeds := make([]FeedStats, 0, len(states))
	for _, state := range states {
		feeds = append(feeds, FeedStats{
			FeedID:           state.SourceID,
			Fetched:          state.TotalFetched,
			NotModified:      state.Total304s,
			Errors:           state.TotalErrors,
			ConsecutiveFails: state.ConsecutiveFails,
			CircuitState:     string(state.CircuitState),
			CircuitOpenedAt:  state.CircuitOpenedAt,
			LastPolledAt:     state.LastPolledAt,
			LastSuccessAt:    state.LastSuccessAt,
		})
	}
	return map[string]any{
		"feeds":       feeds,
		"queue_depth": len(p.out),
	}, nil
}
