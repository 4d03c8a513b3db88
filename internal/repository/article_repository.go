package repository

import (
	"context"
	"time"

	"catchup-pipeline/internal/domain/entity"
)

// ArticleRepository persists the articles collection, partitioned by
// published_date day-bucket per the persisted state layout.
type ArticleRepository interface {
	Upsert(ctx context.Context, article *entity.Article) error
	FindByID(ctx context.Context, articleID string, publishedDate string) (*entity.Article, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Article, error)
	// FindExpired returns articles whose TTL expired as of now, for the
	// Normalizer's retention sweeper.
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Article, error)
	Delete(ctx context.Context, articleID, publishedDate string) error
	// ChangeStream exposes article mutations for the Clustering Engine's
	// consumer loop.
	ChangeStream(ctx context.Context, leaseName string) (ArticleChangeConsumer, error)
}

// ArticleChangeEvent is one decoded article mutation. Article is nil for
// deletions.
type ArticleChangeEvent struct {
	SequenceID int64
	Article    *entity.Article
	Deleted    bool
}

// ArticleChangeConsumer is the typed view of the articles change stream.
// Delivery is at-least-once; handlers checkpoint after processing.
type ArticleChangeConsumer interface {
	Next(ctx context.Context) (ArticleChangeEvent, error)
	Checkpoint(ctx context.Context, sequenceID int64) error
	Close(ctx context.Context) error
}
