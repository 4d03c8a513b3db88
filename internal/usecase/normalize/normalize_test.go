package normalize

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/feedpoll"
	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/usecase/poll"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain text", "Hello world", "Hello world"},
		{"strips tags", "<p>Hello <b>world</b></p>", "Hello world"},
		{"decodes entities", "Ben &amp; Jerry&#39;s", "Ben & Jerry's"},
		{"collapses whitespace", "  a \n\t b   c  ", "a b c"},
		{"empty", "", ""},
		{"nested markup", `<div><a href="#">Link</a> text<br/>more</div>`, "Link textmore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.raw))
		})
	}
}

func testExtractor() *Extractor {
	return NewExtractor([]AliasEntry{
		{Canonical: "European Union", Type: "ORG", Aliases: []string{"EU"}},
		{Canonical: "Hamas", Type: "ORG"},
		{Canonical: "Red Cross", Type: "ORG"},
		{Canonical: "Gaza", Type: "LOCATION"},
		{Canonical: "Angela Merkel", Type: "PERSON", Aliases: []string{"Merkel"}},
	})
}

func TestExtract_DictionaryAndSpans(t *testing.T) {
	ex := testExtractor()
	mentions := ex.Extract("Hamas releases hostages to Red Cross in Gaza as Acme Corp watches")

	texts := make(map[string]entity.EntityType)
	for _, m := range mentions {
		texts[m.Text] = m.Type
	}
	assert.Equal(t, entity.EntityOrg, texts["Hamas"])
	assert.Equal(t, entity.EntityOrg, texts["Red Cross"])
	assert.Equal(t, entity.EntityLocation, texts["Gaza"])
	assert.Equal(t, entity.EntityOrg, texts["Acme Corp"])
}

func TestExtract_DedupPreservesFirstSeenOrder(t *testing.T) {
	ex := testExtractor()
	mentions := ex.Extract("Merkel met the EU. MERKEL and the eu spoke again.")

	require.Len(t, mentions, 2)
	assert.Equal(t, "Angela Merkel", mentions[0].Text)
	assert.Equal(t, "European Union", mentions[1].Text)
}

func TestExtract_Deterministic(t *testing.T) {
	ex := testExtractor()
	text := "Angela Merkel addressed the European Union over Gaza"
	first := ex.Extract(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ex.Extract(text))
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
		hint        string
		want        entity.Category
	}{
		{"hint wins", "Anything at all", "", "sports", entity.CategorySports},
		{"tech keywords", "Company X unveils new iPhone feature", "A software update", "", entity.CategoryTech},
		{"sports keywords", "Team Y wins championship with amazing play", "The league final", "", entity.CategorySports},
		{"world keywords", "Ceasefire talks stall at the border", "refugee crisis deepens", "", entity.CategoryWorld},
		{"fallback", "Miscellany of the day", "", "", entity.CategoryTopStories},
		{"invalid hint ignored", "Markets rally on earnings", "investor optimism", "gossip", entity.CategoryBusiness},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.title, tt.description, tt.hint))
		})
	}
}

func TestFingerprint_DeterministicAndStable(t *testing.T) {
	mentions := []entity.EntityMention{
		{Text: "Hamas", Type: entity.EntityOrg},
		{Text: "Red Cross", Type: entity.EntityOrg},
		{Text: "Gaza", Type: entity.EntityLocation},
	}

	first := Fingerprint("Hamas releases first group of 7 hostages to Red Cross in Gaza", mentions)
	assert.Len(t, first, 8)

	for i := 0; i < 10; i++ {
		again := Fingerprint("Hamas releases first group of 7 hostages to Red Cross in Gaza", mentions)
		assert.Equal(t, first, again)
	}
}

func TestFingerprint_EntityOrderIndependent(t *testing.T) {
	a := []entity.EntityMention{
		{Text: "Hamas", Type: entity.EntityOrg},
		{Text: "Red Cross", Type: entity.EntityOrg},
	}
	b := []entity.EntityMention{
		{Text: "Red Cross", Type: entity.EntityOrg},
		{Text: "Hamas", Type: entity.EntityOrg},
	}
	assert.Equal(t,
		Fingerprint("Hostages released in Gaza", a),
		Fingerprint("Hostages released in Gaza", b))
}

func TestFingerprint_DifferentTitlesDiffer(t *testing.T) {
	assert.NotEqual(t,
		Fingerprint("Company X unveils new iPhone feature", nil),
		Fingerprint("Team Y wins championship with amazing play", nil))
}

func TestArticleID_Deterministic(t *testing.T) {
	at := time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC)
	a := ArticleID("bbc", "https://bbc.example/news/1", at)
	b := ArticleID("bbc", "https://bbc.example/news/1", at)
	c := ArticleID("bbc", "https://bbc.example/news/2", at)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "bbc-")
}

// memArticleRepo is an in-memory ArticleRepository for service tests.
type memArticleRepo struct {
	mu       sync.Mutex
	articles map[string]*entity.Article
}

func newMemArticleRepo() *memArticleRepo {
	return &memArticleRepo{articles: make(map[string]*entity.Article)}
}

func (r *memArticleRepo) Upsert(_ context.Context, a *entity.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *a
	r.articles[a.ArticleID] = &clone
	return nil
}

func (r *memArticleRepo) FindByID(_ context.Context, id, _ string) (*entity.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.articles[id]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, entity.ErrNotFound
}

func (r *memArticleRepo) FindByFingerprint(_ context.Context, fp string) (*entity.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.articles {
		if a.Fingerprint == fp {
			clone := *a
			return &clone, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (r *memArticleRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]*entity.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Article
	for _, a := range r.articles {
		if a.Expired(now) && len(out) < limit {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memArticleRepo) Delete(_ context.Context, id, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.articles, id)
	return nil
}

func (r *memArticleRepo) ChangeStream(context.Context, string) (repository.ArticleChangeConsumer, error) {
	return nil, nil
}

func testService(t *testing.T, repo repository.ArticleRepository) *Service {
	t.Helper()
	svc, err := NewService(repo, testExtractor(), DefaultConfig(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return svc
}

func candidate(title string) poll.Candidate {
	return poll.Candidate{
		Item: feedpoll.Item{
			Title:       title,
			Link:        "https://news.example/articles/42",
			Description: "Seven hostages were handed over on Saturday.",
			PublishedAt: time.Date(2026, 3, 10, 11, 58, 0, 0, time.UTC),
		},
		Feed: poll.FeedDescriptor{FeedID: "bbc-world", SourceID: "bbc", CategoryHint: "world"},
	}
}

func TestNormalizeEntry(t *testing.T) {
	svc := testService(t, newMemArticleRepo())

	article, err := svc.NormalizeEntry(candidate("Hamas releases first group of <b>7 hostages</b> to Red Cross in Gaza"))
	require.NoError(t, err)

	assert.Equal(t, "Hamas releases first group of 7 hostages to Red Cross in Gaza", article.Title)
	assert.Equal(t, entity.CategoryWorld, article.Category)
	assert.NotEmpty(t, article.Fingerprint)
	assert.Equal(t, "bbc", article.SourceID)
	require.NotEmpty(t, article.Entities)
	assert.Equal(t, "Hamas", article.Entities[0].Text)
}

func TestNormalizeEntry_DropsJunk(t *testing.T) {
	svc := testService(t, newMemArticleRepo())

	tests := []struct {
		name  string
		title string
	}{
		{"too short", "Hi"},
		{"empty after cleaning", "<p>  </p>"},
		{"sponsored", "Sponsored: the best mattress deals this week"},
		{"affiliate", "Our affiliate picks for spring gadgets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.NormalizeEntry(candidate(tt.title))
			assert.ErrorIs(t, err, ErrDropped)
		})
	}
}

func TestRun_StoresOnceOnRepoll(t *testing.T) {
	repo := newMemArticleRepo()
	svc := testService(t, repo)

	in := make(chan poll.Candidate, 4)
	in <- candidate("Hamas releases first group of 7 hostages to Red Cross in Gaza")
	in <- candidate("Hamas releases first group of 7 hostages to Red Cross in Gaza") // re-poll duplicate
	close(in)

	cfg := DefaultConfig()
	cfg.Workers = 1 // deterministic ordering for the duplicate check
	svc.cfg = cfg

	require.NoError(t, svc.Run(context.Background(), in))
	assert.Len(t, repo.articles, 1)
}

func TestSweepOnce_RemovesExpired(t *testing.T) {
	repo := newMemArticleRepo()
	svc := testService(t, repo)

	old := candidate("Hamas releases first group of 7 hostages to Red Cross in Gaza")
	old.Item.PublishedAt = time.Now().UTC().AddDate(0, 0, -40)
	article, err := svc.NormalizeEntry(old)
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(context.Background(), article))

	svc.sweepOnce(context.Background())
	assert.Empty(t, repo.articles)
}
