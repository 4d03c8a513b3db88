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

// ArticleRepo implements repository.ArticleRepository over the generic
// document store.
type ArticleRepo struct {
	store repository.Store
}

func NewArticleRepo(store repository.Store) *ArticleRepo {
	return &ArticleRepo{store: store}
}

func (repo *ArticleRepo) Upsert(ctx context.Context, article *entity.Article) error {
	if err := article.Validate(); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	body, err := marshalArticle(article)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	doc := repository.Doc{
		ID:           article.ArticleID,
		PartitionKey: articlePartitionKey(article.PublishedAt),
		Body:         body,
	}
	if _, err := repo.store.Upsert(ctx, CollectionArticles, doc); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *ArticleRepo) FindByID(ctx context.Context, articleID, publishedDate string) (*entity.Article, error) {
	doc, err := repo.store.Read(ctx, CollectionArticles, articleID, publishedDate)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindByID: %w", err)
	}
	return unmarshalArticle(doc.Body)
}

func (repo *ArticleRepo) FindByFingerprint(ctx context.Context, fingerprint string) (*entity.Article, error) {
	docs, err := repo.store.Query(ctx, CollectionArticles, repository.QueryPredicate{
		Where: `body->>'fingerprint' = $1`,
		Args:  []any{fingerprint},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("FindByFingerprint: %w", err)
	}
	if len(docs) == 0 {
		return nil, entity.ErrNotFound
	}
	return unmarshalArticle(docs[0].Body)
}

func (repo *ArticleRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Article, error) {
	cutoff := now.AddDate(0, 0, -entity.ArticleTTLDays)
	docs, err := repo.store.Query(ctx, CollectionArticles, repository.QueryPredicate{
		Where: `(body->>'published_at')::timestamptz < $1`,
		Args:  []any{cutoff.UTC()},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("FindExpired: %w", err)
	}

	articles := make([]*entity.Article, 0, len(docs))
	for _, doc := range docs {
		article, err := unmarshalArticle(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("FindExpired: %w", err)
		}
		articles = append(articles, article)
	}
	// The store contract does not guarantee ORDER BY support; oldest first.
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].PublishedAt.Before(articles[j].PublishedAt)
	})
	return articles, nil
}

func (repo *ArticleRepo) Delete(ctx context.Context, articleID, publishedDate string) error {
	if err := repo.store.Delete(ctx, CollectionArticles, articleID, publishedDate); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// ChangeStream exposes article mutations for the Clustering Engine.
func (repo *ArticleRepo) ChangeStream(ctx context.Context, leaseName string) (repository.ArticleChangeConsumer, error) {
	inner, err := repo.store.ChangeStream(ctx, CollectionArticles, leaseName)
	if err != nil {
		return nil, err
	}
	return &articleChangeConsumer{inner: inner}, nil
}

type articleChangeConsumer struct {
	inner repository.ChangeStreamConsumer
}

func (c *articleChangeConsumer) Next(ctx context.Context) (repository.ArticleChangeEvent, error) {
	ev, err := c.inner.Next(ctx)
	if err != nil {
		return repository.ArticleChangeEvent{}, err
	}
	out := repository.ArticleChangeEvent{SequenceID: ev.SequenceID, Deleted: ev.Deleted}
	if !ev.Deleted {
		article, err := unmarshalArticle(ev.Doc.Body)
		if err != nil {
			return out, fmt.Errorf("decode article event %d: %w", ev.SequenceID, err)
		}
		out.Article = article
	}
	return out, nil
}

func (c *articleChangeConsumer) Checkpoint(ctx context.Context, sequenceID int64) error {
	return c.inner.Checkpoint(ctx, sequenceID)
}

func (c *articleChangeConsumer) Close(ctx context.Context) error {
	return c.inner.Close(ctx)
}
