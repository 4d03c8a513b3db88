package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/repository"
)

// StoryRepo implements repository.StoryRepository over the generic document
// store. Stories are partitioned by category.
type StoryRepo struct {
	store repository.Store
}

func NewStoryRepo(store repository.Store) *StoryRepo {
	return &StoryRepo{store: store}
}

func (repo *StoryRepo) Create(ctx context.Context, story *entity.Story) (string, error) {
	if err := story.Validate(); err != nil {
		return "", fmt.Errorf("Create: %w", err)
	}
	body, err := marshalStory(story)
	if err != nil {
		return "", fmt.Errorf("Create: %w", err)
	}
	etag, err := repo.store.Upsert(ctx, CollectionStories, repository.Doc{
		ID:           story.StoryID,
		PartitionKey: string(story.Category),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("Create: %w", err)
	}
	story.ETag = etag
	return etag, nil
}

func (repo *StoryRepo) Read(ctx context.Context, storyID, category string) (*entity.Story, string, error) {
	doc, err := repo.store.Read(ctx, CollectionStories, storyID, category)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", entity.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("Read: %w", err)
	}
	story, err := unmarshalStory(doc.Body)
	if err != nil {
		return nil, "", fmt.Errorf("Read: %w", err)
	}
	story.ETag = doc.ETag
	return story, doc.ETag, nil
}

func (repo *StoryRepo) Replace(ctx context.Context, story *entity.Story, ifMatchETag string) (string, error) {
	if err := story.Validate(); err != nil {
		return "", fmt.Errorf("Replace: %w", err)
	}
	body, err := marshalStory(story)
	if err != nil {
		return "", fmt.Errorf("Replace: %w", err)
	}
	etag, err := repo.store.Replace(ctx, CollectionStories, repository.Doc{
		ID:           story.StoryID,
		PartitionKey: string(story.Category),
		Body:         body,
	}, ifMatchETag)
	if err != nil {
		// ErrETagMismatch passes through untouched so callers can drive
		// the read-modify-write retry loop on errors.Is.
		return "", err
	}
	story.ETag = etag
	return etag, nil
}

func (repo *StoryRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Story, string, error) {
	docs, err := repo.store.Query(ctx, CollectionStories, repository.QueryPredicate{
		Where: `body->>'fingerprint' = $1 AND body->>'status' != $2`,
		Args:  []any{fingerprint, string(entity.StatusArchived)},
		Limit: 2,
	})
	if err != nil {
		return nil, "", fmt.Errorf("FindByFingerprint: %w", err)
	}
	if len(docs) == 0 {
		return nil, "", entity.ErrNotFound
	}
	// If more than one open story carries the fingerprint, take the most
	// recently updated; the ambiguity resolves as the older one archives.
	best := docs[0]
	if len(docs) > 1 {
		stories := make([]*entity.Story, len(docs))
		for i, d := range docs {
			if stories[i], err = unmarshalStory(d.Body); err != nil {
				return nil, "", fmt.Errorf("FindByFingerprint: %w", err)
			}
		}
		if stories[1].UpdatedAt.After(stories[0].UpdatedAt) {
			best = docs[1]
		}
	}
	story, err := unmarshalStory(best.Body)
	if err != nil {
		return nil, "", fmt.Errorf("FindByFingerprint: %w", err)
	}
	story.ETag = best.ETag
	return story, best.ETag, nil
}

func (repo *StoryRepo) FindCandidatesByCategory(ctx context.Context, category entity.Category, since time.Time) ([]*entity.Story, error) {
	docs, err := repo.store.Query(ctx, CollectionStories, repository.QueryPredicate{
		PartitionKey: string(category),
		Where:        `(body->>'last_updated')::timestamptz >= $1 AND body->>'status' != $2`,
		Args:         []any{since.UTC(), string(entity.StatusArchived)},
		Limit:        200,
	})
	if err != nil {
		return nil, fmt.Errorf("FindCandidatesByCategory: %w", err)
	}

	stories := make([]*entity.Story, 0, len(docs))
	for _, doc := range docs {
		story, err := unmarshalStory(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("FindCandidatesByCategory: %w", err)
		}
		story.ETag = doc.ETag
		stories = append(stories, story)
	}
	// Newest first; sorted here because the store may ignore ORDER BY.
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].UpdatedAt.After(stories[j].UpdatedAt)
	})
	return stories, nil
}

func (repo *StoryRepo) FindByStatus(ctx context.Context, status entity.StoryStatus) ([]*entity.Story, error) {
	docs, err := repo.store.Query(ctx, CollectionStories, repository.QueryPredicate{
		Where: `body->>'status' = $1`,
		Args:  []any{string(status)},
	})
	if err != nil {
		return nil, fmt.Errorf("FindByStatus: %w", err)
	}

	stories := make([]*entity.Story, 0, len(docs))
	for _, doc := range docs {
		story, err := unmarshalStory(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("FindByStatus: %w", err)
		}
		story.ETag = doc.ETag
		stories = append(stories, story)
	}
	return stories, nil
}

func (repo *StoryRepo) FindNeedingSummary(ctx context.Context, limit int) ([]*entity.Story, error) {
	docs, err := repo.store.Query(ctx, CollectionStories, repository.QueryPredicate{
		Where: `body->>'status' != $1 AND (body->'summary' IS NULL OR (body->'summary'->>'generated_at')::timestamptz < (body->>'last_updated')::timestamptz)`,
		Args:  []any{string(entity.StatusArchived)},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("FindNeedingSummary: %w", err)
	}

	stories := make([]*entity.Story, 0, len(docs))
	for _, doc := range docs {
		story, err := unmarshalStory(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("FindNeedingSummary: %w", err)
		}
		story.ETag = doc.ETag
		stories = append(stories, story)
	}
	// Oldest update first so long-starved stories drain ahead of churny
	// ones; sorted here because the store may ignore ORDER BY.
	sort.Slice(stories, func(i, j int) bool {
		return stories[i].UpdatedAt.Before(stories[j].UpdatedAt)
	})
	return stories, nil
}

func (repo *StoryRepo) ChangeStream(ctx context.Context, leaseName string) (repository.StoryChangeConsumer, error) {
	inner, err := repo.store.ChangeStream(ctx, CollectionStories, leaseName)
	if err != nil {
		return nil, err
	}
	return &storyChangeConsumer{inner: inner}, nil
}

type storyChangeConsumer struct {
	inner repository.ChangeStreamConsumer
}

func (c *storyChangeConsumer) Next(ctx context.Context) (repository.StoryChangeEvent, error) {
	ev, err := c.inner.Next(ctx)
	if err != nil {
		return repository.StoryChangeEvent{}, err
	}
	out := repository.StoryChangeEvent{SequenceID: ev.SequenceID, Deleted: ev.Deleted}
	if !ev.Deleted {
		story, err := unmarshalStory(ev.Doc.Body)
		if err != nil {
			return out, fmt.Errorf("decode story event %d: %w", ev.SequenceID, err)
		}
		story.ETag = ev.Doc.ETag
		out.Story = story
	}
	return out, nil
}

func (c *storyChangeConsumer) Checkpoint(ctx context.Context, sequenceID int64) error {
	return c.inner.Checkpoint(ctx, sequenceID)
}

func (c *storyChangeConsumer) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}
