package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/usecase/poll"
)

// ErrDropped marks an entry the junk filter rejected; it is logged, counted,
// and never stored.
var ErrDropped = errors.New("entry dropped")

// Config holds the normalizer's tunables.
type Config struct {
	// Workers bounds the concurrent normalization pool.
	Workers int

	// MinTitleLength drops entries with shorter cleaned titles.
	MinTitleLength int

	// DenyPatterns drops entries whose title matches any pattern
	// (advertorials, affiliate markers).
	DenyPatterns []string

	// SweepInterval is the article TTL sweeper period.
	SweepInterval time.Duration

	// SweepBatch bounds one sweep's deletions.
	SweepBatch int
}

// DefaultConfig returns the normalizer defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MinTitleLength: 10,
		DenyPatterns: []string{
			`(?i)\bsponsored\b`,
			`(?i)\badvertorial\b`,
			`(?i)\baffiliate\b`,
			`(?i)\bpromo code\b`,
			`(?i)deal of the day`,
		},
		SweepInterval: time.Hour,
		SweepBatch:    500,
	}
}

// Service normalizes candidate entries into stored Articles.
type Service struct {
	articles repository.ArticleRepository
	extract  *Extractor
	cfg      Config
	deny     []*regexp.Regexp
	logger   *slog.Logger
}

// NewService compiles the deny list and wires the normalizer.
func NewService(articles repository.ArticleRepository, extract *Extractor, cfg Config, logger *slog.Logger) (*Service, error) {
	deny := make([]*regexp.Regexp, 0, len(cfg.DenyPatterns))
	for _, pattern := range cfg.DenyPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", pattern, err)
		}
		deny = append(deny, re)
	}
	return &Service{
		articles: articles,
		extract:  extract,
		cfg:      cfg,
		deny:     deny,
		logger:   logger,
	}, nil
}

// ArticleID derives the deterministic article id from the identity triple.
// Re-polling the same entry always lands on the same id, making ingestion
// idempotent.
func ArticleID(sourceID, canonicalURL string, publishedAt time.Time) string {
	material := canonicalURL + "|" + publishedAt.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(material))
	return sourceID + "-" + hex.EncodeToString(sum[:])[:16]
}

// NormalizeEntry transforms one candidate into an Article ready to persist.
// A nil Article with ErrDropped means the junk filter rejected the entry.
func (s *Service) NormalizeEntry(candidate poll.Candidate) (*entity.Article, error) {
	item := candidate.Item
	title := CleanText(item.Title)

	if len(title) < s.cfg.MinTitleLength {
		return nil, fmt.Errorf("%w: title too short (%d chars)", ErrDropped, len(title))
	}
	for _, re := range s.deny {
		if re.MatchString(title) {
			return nil, fmt.Errorf("%w: title matches deny pattern %q", ErrDropped, re.String())
		}
	}

	description := CleanText(item.Description)
	var content *string
	if item.Content != "" {
		cleaned := CleanContent(item.Content, item.Link)
		if cleaned != "" {
			content = &cleaned
		}
	}

	mentions := s.extract.Extract(title + " " + description)
	category := Categorize(title, description, candidate.Feed.CategoryHint)

	article := &entity.Article{
		ArticleID:   ArticleID(candidate.Feed.SourceID, item.Link, item.PublishedAt),
		SourceID:    candidate.Feed.SourceID,
		Title:       title,
		Description: description,
		Content:     content,
		ArticleURL:  item.Link,
		PublishedAt: item.PublishedAt.UTC(),
		IngestedAt:  time.Now().UTC(),
		Category:    category,
		Entities:    mentions,
		Fingerprint: Fingerprint(title, mentions),
	}
	if item.ImageURL != "" {
		img := item.ImageURL
		article.ImageURL = &img
	}

	if err := article.Validate(); err != nil {
		return nil, err
	}
	return article, nil
}

// Run consumes the candidate queue with a bounded worker pool until ctx is
// canceled. Each stored article's change event drives the Clustering Engine.
func (s *Service) Run(ctx context.Context, in <-chan poll.Candidate) error {
	s.logger.Info("normalizer started", slog.Int("workers", s.cfg.Workers))

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				case candidate, ok := <-in:
					if !ok {
						return nil
					}
					s.handle(groupCtx, candidate)
					metrics.SetQueueDepth("normalizer", len(in))
				}
			}
		})
	}
	return group.Wait()
}

func (s *Service) handle(ctx context.Context, candidate poll.Candidate) {
	logger := s.logger.With(
		slog.String("feed_id", candidate.Feed.FeedID),
		slog.String("url", candidate.Item.Link))

	article, err := s.NormalizeEntry(candidate)
	if errors.Is(err, ErrDropped) {
		metrics.RecordArticleNormalized("dropped_spam")
		logger.Info("entry dropped", slog.String("reason", err.Error()))
		return
	}
	if err != nil {
		metrics.RecordArticleNormalized("dropped_invalid")
		logger.Warn("entry failed validation", slog.Any("error", err))
		return
	}

	// Idempotent re-poll: the deterministic id already being stored means
	// this entry was ingested before.
	existing, err := s.articles.FindByID(ctx, article.ArticleID, article.PublishedAt.UTC().Format("2006-01-02"))
	if err == nil && existing != nil {
		metrics.RecordArticleNormalized("duplicate")
		return
	}
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		logger.Error("duplicate check failed", slog.Any("error", err))
		return
	}

	if err := s.articles.Upsert(ctx, article); err != nil {
		metrics.RecordArticleNormalized("dropped_invalid")
		logger.Error("store article failed", slog.Any("error", err))
		return
	}
	metrics.RecordArticleNormalized("stored")
	logger.Info("article stored",
		slog.String("article_id", article.ArticleID),
		slog.String("category", string(article.Category)),
		slog.String("fingerprint", article.Fingerprint))
}

// RunSweeper deletes articles past their TTL on a timer. The store contract
// has no native TTL, so retention is enforced here.
func (s *Service) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	expired, err := s.articles.FindExpired(ctx, time.Now().UTC(), s.cfg.SweepBatch)
	if err != nil {
		s.logger.Error("ttl sweep query failed", slog.Any("error", err))
		return
	}

	removed := 0
	for _, article := range expired {
		day := article.PublishedAt.UTC().Format("2006-01-02")
		if err := s.articles.Delete(ctx, article.ArticleID, day); err != nil {
			s.logger.Error("ttl delete failed",
				slog.String("article_id", article.ArticleID),
				slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		metrics.RecordArticlesExpired(removed)
		s.logger.Info("ttl sweep removed articles", slog.Int("removed", removed))
	}
}
