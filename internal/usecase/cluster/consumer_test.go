package cluster

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/repository"
)

// scriptedConsumer replays a fixed event sequence, then blocks until ctx
// cancellation.
type scriptedConsumer struct {
	events      []repository.ArticleChangeEvent
	checkpoints []int64
	closed      bool
}

func (c *scriptedConsumer) Next(ctx context.Context) (repository.ArticleChangeEvent, error) {
	if len(c.events) == 0 {
		<-ctx.Done()
		return repository.ArticleChangeEvent{}, ctx.Err()
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev, nil
}

func (c *scriptedConsumer) Checkpoint(_ context.Context, seq int64) error {
	c.checkpoints = append(c.checkpoints, seq)
	return nil
}

func (c *scriptedConsumer) Close(context.Context) error {
	c.closed = true
	return nil
}

// streamArticles wraps memArticles with a scripted change stream.
type streamArticles struct {
	*memArticles
	consumer *scriptedConsumer
}

func (r *streamArticles) ChangeStream(context.Context, string) (repository.ArticleChangeConsumer, error) {
	return r.consumer, nil
}

type memDeadLetters struct {
	mu      sync.Mutex
	entries []*entity.DeadLetterEntry
}

func (r *memDeadLetters) Put(_ context.Context, entry *entity.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memDeadLetters) List(context.Context, entity.DeadLetterSource, int) ([]*entity.DeadLetterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries, nil
}

func TestConsumer_ProcessesAndCheckpoints(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()
	a1 := article("a1", "bbc", "Hamas releases first group of 7 hostages to Red Cross in Gaza",
		"fp-gaza", entity.CategoryWorld)

	scripted := &scriptedConsumer{events: []repository.ArticleChangeEvent{
		{SequenceID: 1, Article: a1},
	}}
	stream := &streamArticles{memArticles: articles, consumer: scripted}
	deadLetters := &memDeadLetters{}

	consumer := NewConsumer(testEngine(stories, articles), stream, deadLetters, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := consumer.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, []int64{1}, scripted.checkpoints)
	assert.True(t, scripted.closed)
	assert.Empty(t, deadLetters.entries)
	stories.only(t)
}

func TestConsumer_ValidationFailureDeadLettersAndAdvances(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()

	// Missing title fails Story validation at create time, every time.
	bad := article("a1", "bbc", "", "fp-bad", entity.CategoryWorld)
	good := article("a2", "reuters", "Hamas hands over seven hostages to Red Cross",
		"fp-gaza", entity.CategoryWorld)

	scripted := &scriptedConsumer{events: []repository.ArticleChangeEvent{
		{SequenceID: 1, Article: bad},
		{SequenceID: 2, Article: good},
	}}
	stream := &streamArticles{memArticles: articles, consumer: scripted}
	deadLetters := &memDeadLetters{}

	consumer := NewConsumer(testEngine(stories, articles), stream, deadLetters, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = consumer.Run(ctx)

	// The poison event is recorded and skipped; the stream advances to the
	// good event.
	require.Len(t, deadLetters.entries, 1)
	assert.Equal(t, entity.DeadLetterClustering, deadLetters.entries[0].Source)
	assert.Equal(t, []int64{1, 2}, scripted.checkpoints)
	stories.only(t)
}

func TestConsumer_SkipsAlreadyClustered(t *testing.T) {
	stories := newMemStoryRepo()
	articles := newMemArticles()

	clustered := article("a1", "bbc", "Hamas releases hostages", "fp-gaza", entity.CategoryWorld)
	id := "existing-story"
	clustered.ClusterID = &id

	scripted := &scriptedConsumer{events: []repository.ArticleChangeEvent{
		{SequenceID: 7, Article: clustered},
	}}
	stream := &streamArticles{memArticles: articles, consumer: scripted}

	consumer := NewConsumer(testEngine(stories, articles), stream, &memDeadLetters{}, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = consumer.Run(ctx)

	assert.Equal(t, []int64{7}, scripted.checkpoints)
	stories.mu.Lock()
	defer stories.mu.Unlock()
	assert.Empty(t, stories.stories)
}
