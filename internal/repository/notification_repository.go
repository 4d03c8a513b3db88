package repository

import (
	"context"

	"catchup-pipeline/internal/domain/entity"
)

// NotificationRepository persists the notifications collection,
// partitioned by story_id.
type NotificationRepository interface {
	// Enqueue inserts an entry unless one already exists for the same
	// DedupeKey, in which case it is a no-op (at-most-once enqueue per
	// breaking episode).
	Enqueue(ctx context.Context, entry *entity.NotificationQueueEntry) error
	FindPending(ctx context.Context, limit int) ([]*entity.NotificationQueueEntry, error)
	MarkDelivered(ctx context.Context, entryID string) error
	MarkFailed(ctx context.Context, entryID string, reason string) error
}

// DeadLetterRepository persists the dead_letters collection.
type DeadLetterRepository interface {
	Put(ctx context.Context, entry *entity.DeadLetterEntry) error
	List(ctx context.Context, source entity.DeadLetterSource, limit int) ([]*entity.DeadLetterEntry, error)
}

// CostLogRepository persists the append-only cost_log collection.
type CostLogRepository interface {
	Append(ctx context.Context, entry *entity.CostLogEntry) error
}

// SummaryAuditRepository persists the optional summary audit log, active
// only when SUMMARIZATION_AUDIT_LOG_ENABLED is set.
type SummaryAuditRepository interface {
	Append(ctx context.Context, entry *entity.SummaryAuditEntry) error
}
