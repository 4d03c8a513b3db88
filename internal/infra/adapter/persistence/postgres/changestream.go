package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"catchup-pipeline/internal/repository"
	"catchup-pipeline/internal/resilience/circuitbreaker"
)

const (
	// leaseDuration is how long a consumer holds a lease before another
	// replica may steal it. Renewed on every poll.
	leaseDuration = 60 * time.Second

	// pollInterval is how long Next sleeps when the changelog has no new
	// entries.
	pollInterval = 500 * time.Millisecond

	// fetchBatchSize bounds how many changelog rows one poll reads.
	fetchBatchSize = 64
)

func appendChangelog(ctx context.Context, tx *sql.Tx, collection string, doc repository.Doc, etag string, deleted bool) error {
	query := fmt.Sprintf(`
INSERT INTO %s_changelog (doc_id, partition_key, body, etag, deleted)
VALUES ($1, $2, $3, $4, $5)`, collection)
	if _, err := tx.ExecContext(ctx, query, doc.ID, doc.PartitionKey, doc.Body, etag, deleted); err != nil {
		return fmt.Errorf("changelog append: %w", err)
	}
	return nil
}

// changeStreamConsumer is a lease-checkpointed, at-least-once iterator over
// one collection's changelog. One row in change_stream_leases per
// (collection, lease_name) holds both the lease and the checkpoint; events
// before the checkpoint are never redelivered after a restart.
//
// The consumer polls continuously, so its queries run behind a database
// circuit breaker: a dead database trips the breaker instead of burning a
// connection attempt every poll.
type changeStreamConsumer struct {
	db         *circuitbreaker.DBCircuitBreaker
	collection string
	leaseName  string
	holder     string

	buffer []repository.ChangeEvent
}

// ChangeStream returns a consumer bound to leaseName over collection. The
// lease row is created on first use with checkpoint 0 so a brand-new
// consumer replays the full changelog.
func (s *DocumentStore) ChangeStream(ctx context.Context, collection, leaseName string) (repository.ChangeStreamConsumer, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	c := &changeStreamConsumer{
		db:         circuitbreaker.NewDBCircuitBreaker(s.db),
		collection: collection,
		leaseName:  leaseName,
		holder:     uuid.New().String(),
	}

	const query = `
INSERT INTO change_stream_leases (collection, lease_name, checkpoint_seq)
VALUES ($1, $2, 0)
ON CONFLICT (collection, lease_name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, collection, leaseName); err != nil {
		return nil, fmt.Errorf("ChangeStream: init lease: %w", err)
	}
	return c, nil
}

// acquireLease takes or renews the lease. It succeeds when the lease is
// unheld, expired, or already ours; a lease actively held by another
// replica returns false.
func (c *changeStreamConsumer) acquireLease(ctx context.Context) (bool, error) {
	const query = `
UPDATE change_stream_leases
SET holder = $1, expires_at = now() + $2 * interval '1 second'
WHERE collection = $3 AND lease_name = $4
  AND (holder IS NULL OR holder = $1 OR expires_at < now())`
	res, err := c.db.ExecContext(ctx, query, c.holder, int(leaseDuration.Seconds()), c.collection, c.leaseName)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Next blocks until an event is available or ctx is canceled. Events are
// delivered in commit order; redelivery after a crash resumes from the last
// checkpoint.
func (c *changeStreamConsumer) Next(ctx context.Context) (repository.ChangeEvent, error) {
	for {
		if len(c.buffer) > 0 {
			ev := c.buffer[0]
			c.buffer = c.buffer[1:]
			return ev, nil
		}

		held, err := c.acquireLease(ctx)
		if err != nil {
			return repository.ChangeEvent{}, err
		}
		if held {
			if err := c.fetch(ctx); err != nil {
				return repository.ChangeEvent{}, err
			}
			if len(c.buffer) > 0 {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return repository.ChangeEvent{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *changeStreamConsumer) fetch(ctx context.Context) error {
	var checkpoint int64
	const cpQuery = `
SELECT checkpoint_seq FROM change_stream_leases
WHERE collection = $1 AND lease_name = $2`
	err := c.db.QueryRowContext(ctx, cpQuery, c.collection, c.leaseName).Scan(&checkpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fetch: lease row missing for %s/%s", c.collection, c.leaseName)
	}
	if err != nil {
		return fmt.Errorf("fetch: checkpoint: %w", err)
	}

	query := fmt.Sprintf(`
SELECT seq, doc_id, partition_key, body, etag, deleted
FROM %s_changelog
WHERE seq > $1
ORDER BY seq
LIMIT $2`, c.collection)
	rows, err := c.db.QueryContext(ctx, query, checkpoint, fetchBatchSize)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ev repository.ChangeEvent
		if err := rows.Scan(&ev.SequenceID, &ev.Doc.ID, &ev.Doc.PartitionKey, &ev.Doc.Body, &ev.Doc.ETag, &ev.Deleted); err != nil {
			return fmt.Errorf("fetch: Scan: %w", err)
		}
		c.buffer = append(c.buffer, ev)
	}
	return rows.Err()
}

// Checkpoint advances the lease's resume position past sequenceID. Called
// by handlers only after an event is fully processed, preserving
// at-least-once delivery.
func (c *changeStreamConsumer) Checkpoint(ctx context.Context, sequenceID int64) error {
	const query = `
UPDATE change_stream_leases
SET checkpoint_seq = GREATEST(checkpoint_seq, $1)
WHERE collection = $2 AND lease_name = $3 AND holder = $4`
	res, err := c.db.ExecContext(ctx, query, sequenceID, c.collection, c.leaseName, c.holder)
	if err != nil {
		return fmt.Errorf("Checkpoint: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("Checkpoint: lease for %s/%s no longer held", c.collection, c.leaseName)
	}
	return nil
}

// Close releases the lease so another replica can take over immediately
// instead of waiting for expiry.
func (c *changeStreamConsumer) Close(ctx context.Context) error {
	const query = `
UPDATE change_stream_leases
SET holder = NULL, expires_at = NULL
WHERE collection = $1 AND lease_name = $2 AND holder = $3`
	if _, err := c.db.ExecContext(ctx, query, c.collection, c.leaseName, c.holder); err != nil {
		return fmt.Errorf("Close: release lease: %w", err)
	}
	return nil
}
