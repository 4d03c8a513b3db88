package db

import (
	"database/sql"
	"fmt"
)

// documentCollections are the pipeline's persisted collections. Each gets a
// document table plus an append-only changelog backing its change stream.
var documentCollections = []string{
	"articles",
	"stories",
	"feed_poll_states",
	"notifications",
	"dead_letters",
	"cost_log",
	"summary_audit",
}

// MigrateUp creates the document-store schema. Safe to run on every start;
// every statement is idempotent.
func MigrateUp(db *sql.DB) error {
	for _, collection := range documentCollections {
		if _, err := db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id            TEXT PRIMARY KEY,
    partition_key TEXT NOT NULL,
    body          JSONB NOT NULL,
    etag          UUID NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`, collection)); err != nil {
			return fmt.Errorf("create %s: %w", collection, err)
		}

		if _, err := db.Exec(fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_partition_key ON %s (partition_key)`,
			collection, collection)); err != nil {
			return fmt.Errorf("index %s: %w", collection, err)
		}

		if _, err := db.Exec(fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s_changelog (
    seq           BIGSERIAL PRIMARY KEY,
    doc_id        TEXT NOT NULL,
    partition_key TEXT NOT NULL,
    body          JSONB NOT NULL,
    etag          UUID NOT NULL,
    deleted       BOOLEAN NOT NULL DEFAULT FALSE,
    committed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, collection)); err != nil {
			return fmt.Errorf("create %s_changelog: %w", collection, err)
		}
	}

	// Fingerprint lookups are the clustering hot path.
	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_stories_fingerprint ON stories ((body->>'fingerprint'))`); err != nil {
		return fmt.Errorf("index stories fingerprint: %w", err)
	}
	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_stories_status ON stories ((body->>'status'))`); err != nil {
		return fmt.Errorf("index stories status: %w", err)
	}
	if _, err := db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles ((body->>'published_at'))`); err != nil {
		return fmt.Errorf("index articles published_at: %w", err)
	}

	// One lease row per (collection, consumer). A lease carries both the
	// ownership claim and the resume checkpoint.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS change_stream_leases (
    collection     TEXT NOT NULL,
    lease_name     TEXT NOT NULL,
    checkpoint_seq BIGINT NOT NULL DEFAULT 0,
    holder         TEXT,
    expires_at     TIMESTAMPTZ,
    PRIMARY KEY (collection, lease_name)
)`); err != nil {
		return fmt.Errorf("create change_stream_leases: %w", err)
	}

	return nil
}
