package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/observability/logging"
	"catchup-pipeline/internal/observability/metrics"
	"catchup-pipeline/internal/observability/slo"
	"catchup-pipeline/internal/observability/tracing"
	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/resilience/retry"
)

// leaseName identifies this consumer's change-stream lease.
const leaseName = "clustering"

// poisonAttempts is how many failed retry rounds (each one retry.WithBackoff
// run) one event gets before it is dead-lettered and skipped, so a poison
// message never blocks the stream.
const poisonAttempts = 3

// Consumer drives the Engine from the articles change stream.
type Consumer struct {
	engine      *Engine
	articles    repository.ArticleRepository
	deadLetters repository.DeadLetterRepository
	logger      *slog.Logger
	retry       retry.Config
}

func NewConsumer(engine *Engine, articles repository.ArticleRepository, deadLetters repository.DeadLetterRepository, logger *slog.Logger) *Consumer {
	return &Consumer{
		engine:      engine,
		articles:    articles,
		deadLetters: deadLetters,
		logger:      logger,
		retry:       retry.DBConfig(),
	}
}

// Run consumes article change events until ctx is canceled. Delivery is
// at-least-once; the engine's handling is idempotent, and the checkpoint
// only advances after an event is handled or dead-lettered.
func (c *Consumer) Run(ctx context.Context) error {
	consumer, err := c.articles.ChangeStream(ctx, leaseName)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := consumer.Close(closeCtx); err != nil {
			c.logger.Warn("lease release failed", slog.Any("error", err))
		}
	}()

	c.logger.Info("clustering consumer started", slog.String("lease", leaseName))

	for {
		event, err := consumer.Next(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if err != nil {
			c.logger.Error("change stream read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		c.handleEvent(ctx, event)

		if err := consumer.Checkpoint(ctx, event.SequenceID); err != nil {
			c.logger.Error("checkpoint failed",
				slog.Int64("sequence_id", event.SequenceID),
				slog.Any("error", err))
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, event repository.ArticleChangeEvent) {
	if event.Deleted || event.Article == nil {
		return
	}
	// Articles re-written with a cluster id echo through the stream; only
	// unclustered articles need a decision.
	if event.Article.ClusterID != nil {
		return
	}

	ctx = logging.NewRequestID(ctx, uuid.New().String())
	ctx, span := tracing.StartSpan(ctx, "cluster-article")
	defer span.End()
	logger := logging.WithRequestID(ctx, c.logger)

	var lastErr error
	for attempt := 1; attempt <= poisonAttempts; attempt++ {
		err := retry.WithBackoff(ctx, c.retry, func() error {
			return c.engine.HandleArticle(ctx, event.Article)
		})
		if err == nil {
			slo.UpdateClusteringLag(time.Since(event.Article.IngestedAt).Seconds())
			return
		}
		lastErr = err

		var validationErr *entity.ValidationError
		if errors.As(err, &validationErr) {
			// A validation failure is a bug, not a transient: log the full
			// payload and dead-letter immediately.
			break
		}
		logger.Warn("clustering attempt failed",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
	}

	c.deadLetter(ctx, logger, event, lastErr)
}

func (c *Consumer) deadLetter(ctx context.Context, logger *slog.Logger, event repository.ArticleChangeEvent, cause error) {
	payload, err := json.Marshal(event.Article)
	if err != nil {
		payload = []byte(`{}`)
	}

	now := time.Now().UTC()
	entry := &entity.DeadLetterEntry{
		Source:       entity.DeadLetterClustering,
		EventPayload: payload,
		Reason:       cause.Error(),
		Attempts:     poisonAttempts,
		FirstSeenAt:  now,
		LastSeenAt:   now,
	}
	if err := c.deadLetters.Put(ctx, entry); err != nil {
		logger.Error("dead letter write failed", slog.Any("error", err))
	}
	metrics.RecordDeadLetter("clustering")
	logger.Error("article dead-lettered",
		slog.String("article_id", event.Article.ArticleID),
		slog.String("payload", string(payload)),
		slog.Any("error", cause))
}
