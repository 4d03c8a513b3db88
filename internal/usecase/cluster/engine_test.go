package cluster

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/repository"
)

// memStoryRepo is an in-memory StoryRepository with real etag semantics.
type memStoryRepo struct {
	mu      sync.Mutex
	stories map[string]*entity.Story
	etags   map[string]string
	seq     int

	// failReplaces makes the next N Replace calls return ErrETagMismatch.
	failReplaces int
	replaceCalls int
}

func newMemStoryRepo() *memStoryRepo {
	return &memStoryRepo{
		stories: make(map[string]*entity.Story),
		etags:   make(map[string]string),
	}
}

func (r *memStoryRepo) clone(s *entity.Story) *entity.Story {
	c := *s
	c.Sources = append([]entity.SourceArticleRef(nil), s.Sources...)
	c.Tags = append([]entity.EntityMention(nil), s.Tags...)
	return &c
}

func (r *memStoryRepo) nextETag() string {
	r.seq++
	return "etag-" + strconv.Itoa(r.seq)
}

func (r *memStoryRepo) Create(_ context.Context, story *entity.Story) (string, error) {
	if err := story.Validate(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	etag := r.nextETag()
	r.stories[story.StoryID] = r.clone(story)
	r.etags[story.StoryID] = etag
	story.ETag = etag
	return etag, nil
}

func (r *memStoryRepo) Read(_ context.Context, storyID, _ string) (*entity.Story, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	story, ok := r.stories[storyID]
	if !ok {
		return nil, "", entity.ErrNotFound
	}
	out := r.clone(story)
	out.ETag = r.etags[storyID]
	return out, out.ETag, nil
}

func (r *memStoryRepo) Replace(_ context.Context, story *entity.Story, ifMatch string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaceCalls++
	if r.failReplaces > 0 {
		r.failReplaces--
		return "", repository.ErrETagMismatch
	}
	current, ok := r.etags[story.StoryID]
	if !ok {
		return "", entity.ErrNotFound
	}
	if current != ifMatch {
		return "", repository.ErrETagMismatch
	}
	etag := r.nextETag()
	r.stories[story.StoryID] = r.clone(story)
	r.etags[story.StoryID] = etag
	story.ETag = etag
	return etag, nil
}

func (r *memStoryRepo) FindByFingerprint(_ context.Context, fingerprint string) (*entity.Story, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, story := range r.stories {
		if story.Fingerprint == fingerprint && story.Status != entity.StatusArchived {
			out := r.clone(story)
			out.ETag = r.etags[id]
			return out, out.ETag, nil
		}
	}
	return nil, "", entity.ErrNotFound
}

func (r *memStoryRepo) FindCandidatesByCategory(_ context.Context, category entity.Category, since time.Time) ([]*entity.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Story
	for id, story := range r.stories {
		if story.Category == category && story.Status != entity.StatusArchived && story.UpdatedAt.After(since) {
			c := r.clone(story)
			c.ETag = r.etags[id]
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memStoryRepo) FindByStatus(_ context.Context, status entity.StoryStatus) ([]*entity.Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Story
	for id, story := range r.stories {
		if story.Status == status {
			c := r.clone(story)
			c.ETag = r.etags[id]
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memStoryRepo) FindNeedingSummary(context.Context, int) ([]*entity.Story, error) {
	return nil, nil
}

func (r *memStoryRepo) ChangeStream(context.Context, string) (repository.StoryChangeConsumer, error) {
	return nil, nil
}

func (r *memStoryRepo) only(t *testing.T) *entity.Story {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.stories, 1)
	for _, story := range r.stories {
		return r.clone(story)
	}
	return nil
}

// memArticles is a minimal ArticleRepository for cluster tests.
type memArticles struct {
	mu       sync.Mutex
	articles map[string]*entity.Article
}

func newMemArticles() *memArticles {
	return &memArticles{articles: make(map[string]*entity.Article)}
}

func (r *memArticles) Upsert(_ context.Context, a *entity.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *a
	r.articles[a.ArticleID] = &clone
	return nil
}

func (r *memArticles) FindByID(_ context.Context, id, _ string) (*entity.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.articles[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, entity.ErrNotFound
}

func (r *memArticles) FindByFingerprint(context.Context, string) (*entity.Article, error) {
	return nil, entity.ErrNotFound
}

func (r *memArticles) FindExpired(context.Context, time.Time, int) ([]*entity.Article, error) {
	return nil, nil
}

func (r *memArticles) Delete(context.Context, string, string) error { return nil }

func (r *memArticles) ChangeStream(context.Context, string) (repository.ArticleChangeConsumer, error) {
	return nil, nil
}

func testEngine(stories *memStoryRepo, articles *memArticles) *Engine {
	cfg := DefaultConfig()
	cfg.AttachBackoff = time.Millisecond
	return NewEngine(stories, articles, cfg, slog.New(slog.DiscardHandler))
}

func article(id, source, title, fingerprint string, category entity.Category, mentions ...entity.EntityMention) *entity.Article {
	return &entity.Article{
		ArticleID:   id,
		SourceID:    source,
		Title:       title,
		Description: "desc",
		ArticleURL:  "https://" + source + ".example/" + id,
		PublishedAt: time.Now().UTC().Add(-time.Minute),
		IngestedAt:  time.Now().UTC(),
		Category:    category,
		Entities:    mentions,
		Fingerprint: fingerprint,
	}
}

func TestTextSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, TextSimilarity("Hamas releases hostages", "Hamas releases hostages"), 1e-9)
	assert.InDelta(t, 1.0, TextSimilarity("releases Hamas hostages", "Hamas releases hostages"), 1e-9)

	near := TextSimilarity(
		"Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"Hamas hands over seven hostages to Red Cross")
	assert.GreaterOrEqual(t, near, 0.70)

	far := TextSimilarity(
		"Company X unveils new iPhone feature",
		"Team Y wins championship with amazing play")
	assert.Less(t, far, 0.70)
}

func TestTextSimilarity_Deterministic(t *testing.T) {
	a := "Hamas releases first group of 7 hostages to Red Cross in Gaza"
	b := "Hamas hands over seven hostages to Red Cross"
	first := TextSimilarity(a, b)
	for i := 0; i < 10; i++ {
		assert.InDelta(t, first, TextSimilarity(a, b), 1e-9)
	}
	assert.InDelta(t, first, TextSimilarity(b, a), 1e-9)
}

func TestTopicConflict(t *testing.T) {
	topics := DefaultTopicSets()

	assert.True(t, topics.Conflict(
		"Company X unveils new iPhone feature",
		"Team Y wins championship with amazing play"))
	assert.False(t, topics.Conflict(
		"Team Y wins championship with amazing play",
		"Team Y coach celebrates the league title"))
	assert.False(t, topics.Conflict(
		"Hamas releases hostages",
		"Hostages handed to Red Cross"))
}

func TestParseTopicSets(t *testing.T) {
	sets, err := ParseTopicSets(`{"finance":["bond"],"weather":["storm"]}`)
	require.NoError(t, err)
	assert.Len(t, sets, 2)

	sets, err = ParseTopicSets("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopicSets(), sets)

	_, err = ParseTopicSets("{not json")
	assert.Error(t, err)
}

func TestHandleArticle_SimpleCluster(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	first := article("a1", "bbc",
		"Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld,
		entity.EntityMention{Text: "Hamas", Type: entity.EntityOrg},
		entity.EntityMention{Text: "Red Cross", Type: entity.EntityOrg})
	require.NoError(t, articles.Upsert(ctx, first))
	require.NoError(t, engine.HandleArticle(ctx, first))

	// Different wording, different fingerprint; fuzzy title carries it.
	second := article("a2", "reuters",
		"Hamas hands over seven hostages to Red Cross",
		"fp-other", entity.CategoryWorld,
		entity.EntityMention{Text: "Hamas", Type: entity.EntityOrg},
		entity.EntityMention{Text: "Red Cross", Type: entity.EntityOrg})
	require.NoError(t, articles.Upsert(ctx, second))
	require.NoError(t, engine.HandleArticle(ctx, second))

	story := stories.only(t)
	assert.Equal(t, 2, story.DistinctSourceCount())
	assert.Equal(t, entity.StatusDeveloping, story.Status)
	assert.True(t, story.HasSource("bbc"))
	assert.True(t, story.HasSource("reuters"))

	stored, err := articles.FindByID(ctx, "a2", "")
	require.NoError(t, err)
	require.NotNil(t, stored.ClusterID)
	assert.Equal(t, story.StoryID, *stored.ClusterID)
}

func TestHandleArticle_DuplicateSourceGuard(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)
	a2 := article("a2", "reuters", "Hamas hands over seven hostages to Red Cross",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a1))
	require.NoError(t, engine.HandleArticle(ctx, a2))

	// A later bbc rendering of the same event must not add a third entry.
	a3 := article("a3", "bbc", "Hamas releases hostages to Red Cross, officials say",
		"fp-gaza", entity.CategoryWorld)
	a3.PublishedAt = time.Now().UTC()
	require.NoError(t, engine.HandleArticle(ctx, a3))

	story := stories.only(t)
	assert.Equal(t, 2, story.DistinctSourceCount())
	assert.Len(t, story.Sources, 2)
	assert.Equal(t, entity.StatusDeveloping, story.Status)
}

func TestHandleArticle_RedeliveryIsIdempotent(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a1))
	before := stories.only(t)

	require.NoError(t, engine.HandleArticle(ctx, a1))
	after := stories.only(t)

	assert.Equal(t, before.Sources, after.Sources)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, 1, after.DistinctSourceCount())
}

func TestHandleArticle_TopicConflictSplitsStories(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	tech := article("a1", "techdaily", "Company X unveils new iPhone feature",
		"fp-tech", entity.CategoryTopStories)
	sports := article("a2", "sportswire", "Team Y wins championship with amazing play",
		"fp-sports", entity.CategoryTopStories)

	require.NoError(t, engine.HandleArticle(ctx, tech))
	require.NoError(t, engine.HandleArticle(ctx, sports))

	stories.mu.Lock()
	defer stories.mu.Unlock()
	assert.Len(t, stories.stories, 2)
}

func TestHandleArticle_EntityMatchRescuesBorderlineTitle(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	cfg := DefaultConfig()
	cfg.AttachBackoff = time.Millisecond
	// Force the fuzzy path to miss so only the entity path can match.
	cfg.FuzzyThreshold = 0.999
	cfg.EntityMatchFloor = 0.2
	engine := NewEngine(stories, articles, cfg, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	shared := []entity.EntityMention{
		{Text: "Angela Merkel", Type: entity.EntityPerson},
		{Text: "European Union", Type: entity.EntityOrg},
		{Text: "Bundestag", Type: entity.EntityOrg},
	}
	a1 := article("a1", "bbc", "Merkel urges European Union unity in Bundestag speech",
		"fp-eu-1", entity.CategoryPolitics, shared...)
	require.NoError(t, engine.HandleArticle(ctx, a1))

	a2 := article("a2", "reuters", "Bundestag hears European Union appeal from Angela Merkel",
		"fp-eu-2", entity.CategoryPolitics, shared...)
	require.NoError(t, engine.HandleArticle(ctx, a2))

	story := stories.only(t)
	assert.Equal(t, 2, story.DistinctSourceCount())
}

func TestAttach_RetriesOnETagConflict(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a1))

	stories.mu.Lock()
	stories.failReplaces = 2
	stories.mu.Unlock()

	a2 := article("a2", "reuters", "Hamas hands over seven hostages to Red Cross",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a2))

	story := stories.only(t)
	assert.Equal(t, 2, story.DistinctSourceCount())
	assert.GreaterOrEqual(t, stories.replaceCalls, 3)
}

func TestAttach_GivesUpAfterMaxAttempts(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a1))

	stories.mu.Lock()
	stories.failReplaces = 100
	stories.mu.Unlock()

	a2 := article("a2", "reuters", "Hamas hands over seven hostages to Red Cross",
		"fp-gaza", entity.CategoryWorld)
	assert.Error(t, engine.HandleArticle(ctx, a2))
}

func TestHandleArticle_BreakingStatusIsPreserved(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	engine := testEngine(stories, articles)
	ctx := context.Background()

	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a1))

	// Simulate the monitor having promoted the story.
	story := stories.only(t)
	stories.mu.Lock()
	stories.stories[story.StoryID].Status = entity.StatusBreaking
	stories.mu.Unlock()

	a2 := article("a2", "reuters", "Hamas hands over seven hostages to Red Cross",
		"fp-gaza", entity.CategoryWorld)
	require.NoError(t, engine.HandleArticle(ctx, a2))

	after := stories.only(t)
	assert.Equal(t, entity.StatusBreaking, after.Status)
	assert.Equal(t, 2, after.DistinctSourceCount())
}

func TestNewStoryID(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	id := NewStoryID(now)
	assert.Contains(t, id, "20260310120000-")
	assert.NotEqual(t, id, NewStoryID(now))
}

func TestCapTags(t *testing.T) {
	var tags []entity.EntityMention
	for i := 0; i < entity.MaxStoryTags+10; i++ {
		tags = append(tags, entity.EntityMention{Text: "Tag" + strconv.Itoa(i), Type: entity.EntityOther})
	}
	tags = append(tags, entity.EntityMention{Text: "tag0", Type: entity.EntityOther}) // dup, case-insensitive

	capped := capTags(tags)
	assert.Len(t, capped, entity.MaxStoryTags)
	assert.Equal(t, "Tag0", capped[0].Text)
}
