package summarize

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/infra/llm"
)

// fakeBatch is a BatchClient that completes instantly.
type fakeBatch struct {
	mu          sync.Mutex
	submissions [][]llm.BatchPrompt
	failSubmits int
	results     map[string]llm.Response
}

func (b *fakeBatch) SubmitBatch(_ context.Context, prompts []llm.BatchPrompt) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubmits > 0 {
		b.failSubmits--
		return "", errors.New("submission rejected")
	}
	b.submissions = append(b.submissions, prompts)
	return "batch-1", nil
}

func (b *fakeBatch) PollBatch(context.Context, string) (llm.BatchStatus, error) {
	return llm.BatchCompleted, nil
}

func (b *fakeBatch) FetchBatchResults(context.Context, string) ([]llm.BatchResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []llm.BatchResult
	for id, resp := range b.results {
		out = append(out, llm.BatchResult{CustomID: id, Response: resp})
	}
	return out, nil
}

func (b *fakeBatch) ModelID() string { return "gpt-4o-mini" }

func monitoringStory(id string) *entity.Story {
	story := verifiedStory(id)
	story.Status = entity.StatusMonitoring
	story.Sources = story.Sources[:1]
	// Old enough to clear the batch debounce window.
	story.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	story.LastSourceAt = story.UpdatedAt
	return story
}

func TestRunBatchOnce_SummarizesQuietStories(t *testing.T) {
	stories := newMemStories()
	stories.put(monitoringStory("s1"))
	stories.put(monitoringStory("s2"))

	batch := &fakeBatch{results: map[string]llm.Response{
		"s1": *okResponse(KeepCurrent, "Summary one."),
		"s2": *okResponse(KeepCurrent, "Summary two."),
	}}
	costs := &memCosts{}
	svc := NewService(stories, costs, nil, &memDead{}, &scriptedLLM{}, batch, DefaultConfig(), slog.New(slog.DiscardHandler))

	svc.runBatchOnce(context.Background())

	require.Len(t, batch.submissions, 1)
	assert.Len(t, batch.submissions[0], 2)

	for _, id := range []string{"s1", "s2"} {
		got := stories.get(id)
		require.NotNil(t, got.Summary, id)
		assert.Equal(t, 1, got.Summary.Version)
		assert.Equal(t, "gpt-4o-mini", got.Summary.Model)
	}
	require.Len(t, costs.entries, 2)
	assert.Equal(t, entity.PathBatch, costs.entries[0].Path)
}

func TestRunBatchOnce_SkipsUrgentAndFreshStories(t *testing.T) {
	stories := newMemStories()
	urgent := verifiedStory("urgent") // realtime path owns it
	stories.put(urgent)
	fresh := monitoringStory("fresh")
	fresh.UpdatedAt = time.Now().UTC() // inside the debounce window
	stories.put(fresh)
	quiet := monitoringStory("quiet")
	stories.put(quiet)

	batch := &fakeBatch{results: map[string]llm.Response{
		"quiet": *okResponse(KeepCurrent, "Quiet summary."),
	}}
	svc := NewService(stories, &memCosts{}, nil, &memDead{}, &scriptedLLM{}, batch, DefaultConfig(), slog.New(slog.DiscardHandler))

	svc.runBatchOnce(context.Background())

	require.Len(t, batch.submissions, 1)
	require.Len(t, batch.submissions[0], 1)
	assert.Equal(t, "quiet", batch.submissions[0][0].CustomID)
}

func TestSubmitWithSplitting_BinarySplitsOnFailure(t *testing.T) {
	stories := newMemStories()
	s1 := monitoringStory("s1")
	s2 := monitoringStory("s2")
	stories.put(s1)
	stories.put(s2)

	// The first (whole-batch) submission fails; the two halves succeed.
	batch := &fakeBatch{
		failSubmits: 1,
		results: map[string]llm.Response{
			"s1": *okResponse(KeepCurrent, "One."),
			"s2": *okResponse(KeepCurrent, "Two."),
		},
	}
	svc := NewService(stories, &memCosts{}, nil, &memDead{}, &scriptedLLM{}, batch, DefaultConfig(), slog.New(slog.DiscardHandler))

	svc.runBatchOnce(context.Background())

	require.Len(t, batch.submissions, 2)
	assert.Len(t, batch.submissions[0], 1)
	assert.Len(t, batch.submissions[1], 1)
}
