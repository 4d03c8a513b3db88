package postgres

import (
	"context"
	"errors"
	"fmt"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/repository"
)

// FeedPollStateRepo implements repository.FeedPollStateRepository. Each
// feed's state lives in its own document, partitioned by feed id.
type FeedPollStateRepo struct {
	store repository.Store
}

func NewFeedPollStateRepo(store repository.Store) *FeedPollStateRepo {
	return &FeedPollStateRepo{store: store}
}

func (repo *FeedPollStateRepo) Get(ctx context.Context, sourceID string) (*entity.FeedPollState, error) {
	doc, err := repo.store.Read(ctx, CollectionFeedPollStates, sourceID, sourceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return unmarshalFeedPollState(doc.Body)
}

func (repo *FeedPollStateRepo) Upsert(ctx context.Context, state *entity.FeedPollState) error {
	body, err := marshalFeedPollState(state)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	doc := repository.Doc{
		ID:           state.SourceID,
		PartitionKey: state.SourceID,
		Body:         body,
	}
	if _, err := repo.store.Upsert(ctx, CollectionFeedPollStates, doc); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *FeedPollStateRepo) ListAll(ctx context.Context) ([]*entity.FeedPollState, error) {
	docs, err := repo.store.Query(ctx, CollectionFeedPollStates, repository.QueryPredicate{})
	if err != nil {
		return nil, fmt.Errorf("ListAll: %w", err)
	}
	states := make([]*entity.FeedPollState, 0, len(docs))
	for _, doc := range docs {
		state, err := unmarshalFeedPollState(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("ListAll: %w", err)
		}
		states = append(states, state)
	}
	return states, nil
}

// ResetCircuit clears an open circuit so the next poll retries immediately.
// Backs the operational POST /circuit-breaker/reset/{feed_id} endpoint.
func (repo *FeedPollStateRepo) ResetCircuit(ctx context.Context, sourceID string) error {
	state, err := repo.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	state.CircuitState = entity.CircuitClosed
	state.CircuitOpenedAt = nil
	state.ConsecutiveFails = 0
	return repo.Upsert(ctx, state)
}
