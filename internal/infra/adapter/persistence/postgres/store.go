// Package postgres implements the generic document-store contract and the
// typed repositories on top of PostgreSQL. Each collection is one physical
// table with a JSONB body, a partition_key column, and a UUID etag that is
// regenerated on every write; an append-only <collection>_changelog table
// backs the change streams.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"catchup-pipeline/internal/repository"
)

// Collection names. The set is closed so table names are never assembled
// from untrusted input.
const (
	CollectionArticles       = "articles"
	CollectionStories        = "stories"
	CollectionFeedPollStates = "feed_poll_states"
	CollectionNotifications  = "notifications"
	CollectionDeadLetters    = "dead_letters"
	CollectionCostLog        = "cost_log"
	CollectionSummaryAudit   = "summary_audit"
)

var knownCollections = map[string]bool{
	CollectionArticles:       true,
	CollectionStories:        true,
	CollectionFeedPollStates: true,
	CollectionNotifications:  true,
	CollectionDeadLetters:    true,
	CollectionCostLog:        true,
	CollectionSummaryAudit:   true,
}

// DocumentStore implements repository.Store over a PostgreSQL pool.
type DocumentStore struct {
	db *sql.DB
}

// NewDocumentStore wraps db. The schema must already exist; see
// internal/infra/db.MigrateUp.
func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func checkCollection(collection string) error {
	if !knownCollections[collection] {
		return fmt.Errorf("unknown collection %q", collection)
	}
	return nil
}

// Upsert writes doc, creating it if absent, and returns the new etag. The
// document write and its changelog entry commit atomically so a change
// stream never observes a write that was rolled back.
func (s *DocumentStore) Upsert(ctx context.Context, collection string, doc repository.Doc) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	etag := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("Upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
INSERT INTO %s (id, partition_key, body, etag, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE
SET partition_key = EXCLUDED.partition_key,
    body          = EXCLUDED.body,
    etag          = EXCLUDED.etag,
    updated_at    = now()`, collection)
	if _, err := tx.ExecContext(ctx, query, doc.ID, doc.PartitionKey, doc.Body, etag); err != nil {
		return "", fmt.Errorf("Upsert: %w", err)
	}

	if err := appendChangelog(ctx, tx, collection, doc, etag, false); err != nil {
		return "", fmt.Errorf("Upsert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Upsert: commit: %w", err)
	}
	return etag, nil
}

// Read fetches one document by id within partitionKey.
func (s *DocumentStore) Read(ctx context.Context, collection, id, partitionKey string) (repository.Doc, error) {
	if err := checkCollection(collection); err != nil {
		return repository.Doc{}, err
	}

	query := fmt.Sprintf(`
SELECT id, partition_key, body, etag
FROM %s
WHERE id = $1 AND partition_key = $2`, collection)

	var doc repository.Doc
	err := s.db.QueryRowContext(ctx, query, id, partitionKey).
		Scan(&doc.ID, &doc.PartitionKey, &doc.Body, &doc.ETag)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.Doc{}, repository.ErrNotFound
	}
	if err != nil {
		return repository.Doc{}, fmt.Errorf("Read: %w", err)
	}
	return doc, nil
}

// Replace performs the optimistic-concurrency update: the write only lands
// if the stored etag still equals ifMatchETag.
func (s *DocumentStore) Replace(ctx context.Context, collection string, doc repository.Doc, ifMatchETag string) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	etag := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("Replace: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`
UPDATE %s
SET partition_key = $1, body = $2, etag = $3, updated_at = now()
WHERE id = $4 AND etag = $5`, collection)
	res, err := tx.ExecContext(ctx, query, doc.PartitionKey, doc.Body, etag, doc.ID, ifMatchETag)
	if err != nil {
		return "", fmt.Errorf("Replace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("Replace: rows affected: %w", err)
	}
	if affected == 0 {
		// Distinguish a stale etag from a missing document.
		var exists bool
		probe := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, collection)
		if err := tx.QueryRowContext(ctx, probe, doc.ID).Scan(&exists); err != nil {
			return "", fmt.Errorf("Replace: probe: %w", err)
		}
		if exists {
			return "", repository.ErrETagMismatch
		}
		return "", repository.ErrNotFound
	}

	if err := appendChangelog(ctx, tx, collection, doc, etag, false); err != nil {
		return "", fmt.Errorf("Replace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("Replace: commit: %w", err)
	}
	return etag, nil
}

// Delete removes a document and records the deletion in the changelog. Used
// by the article TTL sweeper.
func (s *DocumentStore) Delete(ctx context.Context, collection, id, partitionKey string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Delete: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND partition_key = $2`, collection)
	if _, err := tx.ExecContext(ctx, query, id, partitionKey); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	doc := repository.Doc{ID: id, PartitionKey: partitionKey, Body: []byte("{}")}
	if err := appendChangelog(ctx, tx, collection, doc, uuid.New().String(), true); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return tx.Commit()
}

// Query runs a predicate and returns every matching document. OrderBy is
// best-effort per the store contract; callers sort in memory when order
// matters.
func (s *DocumentStore) Query(ctx context.Context, collection string, pred repository.QueryPredicate) ([]repository.Doc, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, partition_key, body, etag FROM %s`, collection)
	where := ""
	args := make([]any, 0, len(pred.Args)+1)

	if pred.PartitionKey != "" {
		args = append(args, pred.PartitionKey)
		where = fmt.Sprintf("partition_key = $%d", len(args))
	}
	if pred.Where != "" {
		clause, renumbered := renumberPlaceholders(pred.Where, len(args))
		args = append(args, pred.Args[:renumbered]...)
		if where != "" {
			where += " AND " + clause
		} else {
			where = clause
		}
	}
	if where != "" {
		query += " WHERE " + where
	}
	if pred.OrderBy != "" {
		query += " ORDER BY " + pred.OrderBy
	}
	if pred.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", pred.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]repository.Doc, 0, 64)
	for rows.Next() {
		var doc repository.Doc
		if err := rows.Scan(&doc.ID, &doc.PartitionKey, &doc.Body, &doc.ETag); err != nil {
			return nil, fmt.Errorf("Query: Scan: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// renumberPlaceholders shifts $1..$n in a WHERE fragment by offset so the
// fragment can follow earlier bound arguments. Returns the rewritten clause
// and the highest placeholder number it references (the number of bound
// arguments the fragment consumes).
func renumberPlaceholders(where string, offset int) (string, int) {
	out := make([]byte, 0, len(where)+4)
	count := 0
	for i := 0; i < len(where); i++ {
		c := where[i]
		if c != '$' {
			out = append(out, c)
			continue
		}
		j := i + 1
		n := 0
		for j < len(where) && where[j] >= '0' && where[j] <= '9' {
			n = n*10 + int(where[j]-'0')
			j++
		}
		if j == i+1 {
			out = append(out, c)
			continue
		}
		if n > count {
			count = n
		}
		out = append(out, fmt.Sprintf("$%d", n+offset)...)
		i = j - 1
	}
	return string(out), count
}
