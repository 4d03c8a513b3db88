package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/repository"
)

// Config holds the clustering engine's tunables.
type Config struct {
	// RecencyWindow bounds how old a story may be and still attract new
	// articles.
	RecencyWindow time.Duration

	// FuzzyThreshold is the minimum title similarity for a fuzzy match.
	FuzzyThreshold float64

	// EntityMatchFloor is the similarity floor below which even shared
	// entities cannot rescue a match.
	EntityMatchFloor float64

	// EntityMatchMinShared is the weighted shared-entity count an
	// entity-based match requires.
	EntityMatchMinShared float64

	// Topics drives the topic-conflict guard.
	Topics TopicSets

	// AttachAttempts bounds the etag-conflict retry loop.
	AttachAttempts int

	// AttachBackoff is the initial conflict backoff; it doubles per retry
	// with a small jitter.
	AttachBackoff time.Duration
}

// DefaultConfig returns the clustering defaults.
func DefaultConfig() Config {
	return Config{
		RecencyWindow:        48 * time.Hour,
		FuzzyThreshold:       0.70,
		EntityMatchFloor:     0.60,
		EntityMatchMinShared: 3,
		Topics:               DefaultTopicSets(),
		AttachAttempts:       5,
		AttachBackoff:        100 * time.Millisecond,
	}
}

// Engine clusters newly stored articles into stories.
type Engine struct {
	stories  repository.StoryRepository
	articles repository.ArticleRepository
	cfg      Config
	logger   *slog.Logger
}

func NewEngine(stories repository.StoryRepository, articles repository.ArticleRepository, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{stories: stories, articles: articles, cfg: cfg, logger: logger}
}

// NewStoryID generates a story id: a UTC timestamp plus a short random
// suffix so ids sort roughly by creation time while staying unique.
func NewStoryID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return now.UTC().Format("20060102150405") + "-" + suffix
}

// HandleArticle runs the matching cascade for one article and persists the
// outcome. It is idempotent: redelivery of an already-clustered article
// changes nothing.
func (e *Engine) HandleArticle(ctx context.Context, article *entity.Article) error {
	if article == nil {
		return nil
	}
	logger := e.logger.With(
		slog.String("article_id", article.ArticleID),
		slog.String("fingerprint", article.Fingerprint))

	story, decision, err := e.match(ctx, article)
	if err != nil {
		return err
	}

	if story == nil {
		if err := e.createStory(ctx, article); err != nil {
			return err
		}
		metrics.RecordClusterDecision("created")
		logger.Info("story created", slog.String("decision", "created"))
		return nil
	}

	outcome, err := e.attach(ctx, story, article)
	if err != nil {
		return err
	}
	if outcome == decisionAttached {
		metrics.RecordClusterDecision(decision)
	} else {
		metrics.RecordClusterDecision(outcome)
	}
	logger.Info("article clustered",
		slog.String("story_id", story.StoryID),
		slog.String("match", decision),
		slog.String("outcome", outcome))
	return nil
}

const (
	decisionAttached        = "attached"
	decisionDuplicateSource = "duplicate_source"
	decisionRedelivery      = "redelivery"
)

// match runs the cascade: fingerprint, then fuzzy title, then shared
// entities. A nil story means "create a new one".
func (e *Engine) match(ctx context.Context, article *entity.Article) (*entity.Story, string, error) {
	cutoff := time.Now().UTC().Add(-e.cfg.RecencyWindow)

	// Primary: exact fingerprint within the recency window.
	story, _, err := e.stories.FindByFingerprint(ctx, article.Fingerprint)
	if err == nil && story.UpdatedAt.After(cutoff) {
		return story, "fingerprint", nil
	}
	if err != nil && !errors.Is(err, entity.ErrNotFound) {
		return nil, "", fmt.Errorf("fingerprint lookup: %w", err)
	}

	// Secondary and tertiary need the recent candidates in category.
	candidates, err := e.stories.FindCandidatesByCategory(ctx, article.Category, cutoff)
	if err != nil {
		return nil, "", fmt.Errorf("candidate lookup: %w", err)
	}

	var best *entity.Story
	bestScore := 0.0
	for _, candidate := range candidates {
		score := TextSimilarity(article.Title, candidate.Title)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if best == nil {
		return nil, "", nil
	}
	if e.cfg.Topics.Conflict(article.Title, best.Title) {
		return nil, "", nil
	}

	if bestScore >= e.cfg.FuzzyThreshold {
		return best, "fuzzy", nil
	}
	if bestScore >= e.cfg.EntityMatchFloor && sharedEntityWeight(article.Entities, best.Tags) >= e.cfg.EntityMatchMinShared {
		return best, "entity", nil
	}
	return nil, "", nil
}

// sharedEntityWeight counts distinct shared entities, PERSON/ORG at full
// weight and LOCATION/OTHER at half.
func sharedEntityWeight(a, b []entity.EntityMention) float64 {
	inB := make(map[string]entity.EntityType, len(b))
	for _, m := range b {
		inB[strings.ToLower(m.Text)] = m.Type
	}
	seen := make(map[string]struct{})
	weight := 0.0
	for _, m := range a {
		key := strings.ToLower(m.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		if _, shared := inB[key]; !shared {
			continue
		}
		seen[key] = struct{}{}
		switch m.Type {
		case entity.EntityPerson, entity.EntityOrg:
			weight += 1
		default:
			weight += 0.5
		}
	}
	return weight
}

func (e *Engine) createStory(ctx context.Context, article *entity.Article) error {
	now := time.Now().UTC()
	story := &entity.Story{
		StoryID:      NewStoryID(now),
		Fingerprint:  article.Fingerprint,
		Title:        article.Title,
		Category:     article.Category,
		Status:       entity.StatusMonitoring,
		Tags:         capTags(article.Entities),
		Sources:      []entity.SourceArticleRef{sourceRef(article, now)},
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSourceAt: now,
	}
	story.ImportanceScore = story.ComputeImportanceScore(now)

	if _, err := e.stories.Create(ctx, story); err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return e.markClustered(ctx, article, story.StoryID)
}

// attach adds the article to the story under the etag-guarded
// read-modify-write loop. Conflicts re-read and re-apply idempotently.
func (e *Engine) attach(ctx context.Context, story *entity.Story, article *entity.Article) (string, error) {
	current := story
	backoff := e.cfg.AttachBackoff

	for attempt := 0; attempt < e.cfg.AttachAttempts; attempt++ {
		// Redelivery guard: this exact article already landed.
		if current.HasArticle(article.ArticleID) {
			return decisionRedelivery, e.markClustered(ctx, article, current.StoryID)
		}

		now := time.Now().UTC()
		outcome := decisionAttached
		if current.HasSource(article.SourceID) {
			// Duplicate-source guard: keep one entry per publisher,
			// refreshing it when this rendering is newer.
			outcome = decisionDuplicateSource
			refreshSourceRef(current, article)
		} else {
			current.Sources = append(current.Sources, sourceRef(article, now))
			current.Tags = capTags(append(current.Tags, article.Entities...))
			current.LastSourceAt = now
			e.recomputeStatus(current)
		}
		current.UpdatedAt = now
		current.ImportanceScore = current.ComputeImportanceScore(now)

		_, err := e.stories.Replace(ctx, current, current.ETag)
		if err == nil {
			return outcome, e.markClustered(ctx, article, current.StoryID)
		}
		if !errors.Is(err, repository.ErrETagMismatch) {
			return "", fmt.Errorf("attach replace: %w", err)
		}

		metrics.ClusterAttachRetries.Inc()
		metrics.RecordStoreConflict("stories")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(withJitter(backoff)):
		}
		backoff *= 2

		fresh, _, err := e.stories.Read(ctx, current.StoryID, string(current.Category))
		if err != nil {
			return "", fmt.Errorf("attach re-read: %w", err)
		}
		current = fresh
	}
	return "", fmt.Errorf("attach to %s: gave up after %d etag conflicts", story.StoryID, e.cfg.AttachAttempts)
}

// recomputeStatus applies the source-count ladder without ever downgrading
// and without touching BREAKING/ARCHIVED, which other components own.
func (e *Engine) recomputeStatus(story *entity.Story) {
	if story.Status == entity.StatusBreaking || story.Status == entity.StatusArchived {
		return
	}
	next := entity.StatusForSourceCount(story.DistinctSourceCount())
	if statusRank(next) > statusRank(story.Status) {
		metrics.RecordStatusTransition(string(story.Status), string(next))
		story.Status = next
	}
}

func statusRank(s entity.StoryStatus) int {
	switch s {
	case entity.StatusMonitoring:
		return 0
	case entity.StatusDeveloping:
		return 1
	case entity.StatusVerified:
		return 2
	case entity.StatusBreaking:
		return 3
	default:
		return -1
	}
}

func (e *Engine) markClustered(ctx context.Context, article *entity.Article, storyID string) error {
	if article.ClusterID != nil && *article.ClusterID == storyID {
		return nil
	}
	article.ClusterID = &storyID
	if err := e.articles.Upsert(ctx, article); err != nil {
		return fmt.Errorf("mark clustered: %w", err)
	}
	return nil
}

func sourceRef(article *entity.Article, now time.Time) entity.SourceArticleRef {
	return entity.SourceArticleRef{
		ArticleID:   article.ArticleID,
		SourceID:    article.SourceID,
		Title:       article.Title,
		URL:         article.ArticleURL,
		PublishedAt: article.PublishedAt,
		AttachedAt:  now,
	}
}

// refreshSourceRef updates the existing entry for the article's source when
// the new rendering is newer, without adding a second entry.
func refreshSourceRef(story *entity.Story, article *entity.Article) {
	for i, ref := range story.Sources {
		if ref.SourceID != article.SourceID {
			continue
		}
		if article.PublishedAt.After(ref.PublishedAt) {
			story.Sources[i].Title = article.Title
			story.Sources[i].URL = article.ArticleURL
			story.Sources[i].PublishedAt = article.PublishedAt
			story.Sources[i].ArticleID = article.ArticleID
		}
		return
	}
}

// capTags dedupes case-insensitively, preserves first-seen order, and
// bounds the list.
func capTags(tags []entity.EntityMention) []entity.EntityMention {
	seen := make(map[string]struct{}, len(tags))
	out := make([]entity.EntityMention, 0, len(tags))
	for _, tag := range tags {
		key := strings.ToLower(tag.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
		if len(out) == entity.MaxStoryTags {
			break
		}
	}
	return out
}

func withJitter(d time.Duration) time.Duration {
	// #nosec G404 -- jitter does not need cryptographic randomness.
	return d + time.Duration(rand.Float64()*0.2*float64(d))
}
