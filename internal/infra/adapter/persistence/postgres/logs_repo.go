package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"catchup-pipeline/internal/domain/entity"
	"catchup-pipeline/internal/repository"
)

// NotificationRepo implements repository.NotificationRepository. Entries are
// keyed by their dedupe key so one breaking episode enqueues at most once.
type NotificationRepo struct {
	store repository.Store
}

func NewNotificationRepo(store repository.Store) *NotificationRepo {
	return &NotificationRepo{store: store}
}

func (repo *NotificationRepo) Enqueue(ctx context.Context, entry *entity.NotificationQueueEntry) error {
	id := entry.DedupeKey()

	// A document already present under the dedupe key means this episode
	// has notified; at-most-once per episode is a no-op here.
	_, err := repo.store.Read(ctx, CollectionNotifications, id, entry.StoryID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("Enqueue: %w", err)
	}

	entry.EntryID = id
	body, err := marshalNotification(entry)
	if err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	doc := repository.Doc{ID: id, PartitionKey: entry.StoryID, Body: body}
	if _, err := repo.store.Upsert(ctx, CollectionNotifications, doc); err != nil {
		return fmt.Errorf("Enqueue: %w", err)
	}
	return nil
}

func (repo *NotificationRepo) FindPending(ctx context.Context, limit int) ([]*entity.NotificationQueueEntry, error) {
	docs, err := repo.store.Query(ctx, CollectionNotifications, repository.QueryPredicate{
		Where: `body->>'status' = $1`,
		Args:  []any{string(entity.NotificationPending)},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("FindPending: %w", err)
	}
	entries := make([]*entity.NotificationQueueEntry, 0, len(docs))
	for _, doc := range docs {
		entry, err := unmarshalNotification(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("FindPending: %w", err)
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (repo *NotificationRepo) MarkDelivered(ctx context.Context, entryID string) error {
	return repo.mark(ctx, entryID, func(entry *entity.NotificationQueueEntry) {
		now := time.Now().UTC()
		entry.Status = entity.NotificationDelivered
		entry.DeliveredAt = &now
	})
}

func (repo *NotificationRepo) MarkFailed(ctx context.Context, entryID, reason string) error {
	return repo.mark(ctx, entryID, func(entry *entity.NotificationQueueEntry) {
		entry.Status = entity.NotificationFailed
		entry.Attempts++
		entry.LastError = reason
	})
}

func (repo *NotificationRepo) mark(ctx context.Context, entryID string, mutate func(*entity.NotificationQueueEntry)) error {
	docs, err := repo.store.Query(ctx, CollectionNotifications, repository.QueryPredicate{
		Where: `id = $1`,
		Args:  []any{entryID},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	if len(docs) == 0 {
		return entity.ErrNotFound
	}
	entry, err := unmarshalNotification(docs[0].Body)
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	mutate(entry)
	body, err := marshalNotification(entry)
	if err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	doc := repository.Doc{ID: docs[0].ID, PartitionKey: docs[0].PartitionKey, Body: body}
	if _, err := repo.store.Replace(ctx, CollectionNotifications, doc, docs[0].ETag); err != nil {
		return fmt.Errorf("mark: %w", err)
	}
	return nil
}

// DeadLetterRepo implements repository.DeadLetterRepository.
type DeadLetterRepo struct {
	store repository.Store
}

func NewDeadLetterRepo(store repository.Store) *DeadLetterRepo {
	return &DeadLetterRepo{store: store}
}

func (repo *DeadLetterRepo) Put(ctx context.Context, entry *entity.DeadLetterEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	doc := deadLetterDoc{
		EntryID:      entry.EntryID,
		Source:       string(entry.Source),
		EventPayload: entry.EventPayload,
		Reason:       entry.Reason,
		Attempts:     entry.Attempts,
		FirstSeenAt:  entry.FirstSeenAt.UTC(),
		LastSeenAt:   entry.LastSeenAt.UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	if _, err := repo.store.Upsert(ctx, CollectionDeadLetters, repository.Doc{
		ID:           entry.EntryID,
		PartitionKey: string(entry.Source),
		Body:         body,
	}); err != nil {
		return fmt.Errorf("Put: %w", err)
	}
	return nil
}

func (repo *DeadLetterRepo) List(ctx context.Context, source entity.DeadLetterSource, limit int) ([]*entity.DeadLetterEntry, error) {
	docs, err := repo.store.Query(ctx, CollectionDeadLetters, repository.QueryPredicate{
		PartitionKey: string(source),
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	entries := make([]*entity.DeadLetterEntry, 0, len(docs))
	for _, d := range docs {
		var doc deadLetterDoc
		if err := json.Unmarshal(d.Body, &doc); err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		entries = append(entries, &entity.DeadLetterEntry{
			EntryID:      doc.EntryID,
			Source:       entity.DeadLetterSource(doc.Source),
			EventPayload: doc.EventPayload,
			Reason:       doc.Reason,
			Attempts:     doc.Attempts,
			FirstSeenAt:  doc.FirstSeenAt,
			LastSeenAt:   doc.LastSeenAt,
		})
	}
	return entries, nil
}

// CostLogRepo implements repository.CostLogRepository.
type CostLogRepo struct {
	store repository.Store
}

func NewCostLogRepo(store repository.Store) *CostLogRepo {
	return &CostLogRepo{store: store}
}

func (repo *CostLogRepo) Append(ctx context.Context, entry *entity.CostLogEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	doc := costLogDoc{
		EntryID:      entry.EntryID,
		StoryID:      entry.StoryID,
		Path:         string(entry.Path),
		Model:        entry.Model,
		InputTokens:  entry.InputTokens,
		CachedTokens: entry.CachedTokens,
		OutputTokens: entry.OutputTokens,
		CostMicroUSD: entry.CostMicroUSD,
		CreatedAt:    entry.CreatedAt.UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	if _, err := repo.store.Upsert(ctx, CollectionCostLog, repository.Doc{
		ID:           entry.EntryID,
		PartitionKey: entry.StoryID,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// SummaryAuditRepo implements repository.SummaryAuditRepository.
type SummaryAuditRepo struct {
	store repository.Store
}

func NewSummaryAuditRepo(store repository.Store) *SummaryAuditRepo {
	return &SummaryAuditRepo{store: store}
}

func (repo *SummaryAuditRepo) Append(ctx context.Context, entry *entity.SummaryAuditEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	doc := summaryAuditDoc{
		EntryID:   entry.EntryID,
		StoryID:   entry.StoryID,
		Version:   entry.Version,
		Text:      entry.Text,
		Headline:  entry.Headline,
		Model:     entry.Model,
		CreatedAt: entry.CreatedAt.UTC(),
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	if _, err := repo.store.Upsert(ctx, CollectionSummaryAudit, repository.Doc{
		ID:           entry.EntryID,
		PartitionKey: entry.StoryID,
		Body:         body,
	}); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}
