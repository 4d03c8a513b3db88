package repository

import (
	"context"

	"catchup-pipeline/internal/domain/entity"
)

// FeedPollStateRepository persists the feed_poll_states collection,
// partitioned by feed_id.
type FeedPollStateRepository interface {
	Get(ctx context.Context, sourceID string) (*entity.FeedPollState, error)
	Upsert(ctx context.Context, state *entity.FeedPollState) error
	ListAll(ctx context.Context) ([]*entity.FeedPollState, error)
	ResetCircuit(ctx context.Context, sourceID string) error
}
