// Package repository declares the persistence contracts consumed by the
// pipeline's use cases. Store is the generic document-store contract; the
// typed *Repository interfaces are thin, collection-specific views over it,
// keeping the underlying store substitutable.
package repository

import (
	"context"
	"errors"
)

// ErrETagMismatch is returned by Store.Replace when if_match_etag no longer
// matches the stored document's current etag (store contract's "412").
var ErrETagMismatch = errors.New("etag mismatch")

// ErrNotFound is returned by Store.Read when no document exists for id.
var ErrNotFound = errors.New("document not found")

// Doc is one document as persisted in a collection: an opaque JSON body, the
// key fields queries are built from, and an optimistic-concurrency etag.
type Doc struct {
	ID            string
	PartitionKey  string
	Body          []byte
	ETag          string
}

// QueryPredicate is a minimal cross-partition filter. The store contract
// requires tolerating stores that reject certain ORDER BY clauses, so
// OrderBy is advisory: callers MUST be prepared to sort the result set
// themselves (see Store.Query doc).
type QueryPredicate struct {
	PartitionKey string // empty means cross-partition
	Where        string // adapter-specific filter fragment, e.g. SQL WHERE body
	Args         []any
	OrderBy      string // best-effort; callers still sort in memory
	Limit        int
}

// ChangeEvent is one delivered mutation from a change stream.
type ChangeEvent struct {
	SequenceID int64
	Doc        Doc
	Deleted    bool
}

// Store is the generic document-store contract described in the external
// interfaces: upsert/read/replace/query/change_stream. Concrete collections
// (articles, stories, feed_poll_states, notifications, dead_letters,
// cost_log) are modeled as distinct Store instances or distinct collection
// names over one Store, at the adapter's discretion.
type Store interface {
	// Upsert writes doc, creating it if absent, and returns the new etag.
	Upsert(ctx context.Context, collection string, doc Doc) (etag string, err error)

	// Read fetches one document by id within partitionKey.
	Read(ctx context.Context, collection, id, partitionKey string) (Doc, error)

	// Replace performs an optimistic-concurrency update: it fails with
	// ErrETagMismatch if the stored document's etag no longer equals
	// ifMatchETag.
	Replace(ctx context.Context, collection string, doc Doc, ifMatchETag string) (etag string, err error)

	// Delete removes a document and records the deletion in the change
	// log. Supplements the core contract for TTL sweeping.
	Delete(ctx context.Context, collection, id, partitionKey string) error

	// Query runs a cross-partition predicate and returns every matching
	// document. The core MUST NOT rely on Query honoring OrderBy; sort
	// results in memory when order matters.
	Query(ctx context.Context, collection string, pred QueryPredicate) ([]Doc, error)

	// ChangeStream returns a consumer bound to leaseName over collection.
	// Events are delivered at-least-once in commit order per document.
	ChangeStream(ctx context.Context, collection, leaseName string) (ChangeStreamConsumer, error)
}

// ChangeStreamConsumer is a lease-checkpointed, at-least-once iterator over
// one collection's mutations. Next blocks until an event is available or ctx
// is canceled. Checkpoint must be called after a handler successfully
// processes an event so a restarted consumer resumes past it; until
// Checkpoint is called the event is redelivered on the next lease
// acquisition, making handlers responsible for idempotency.
type ChangeStreamConsumer interface {
	Next(ctx context.Context) (ChangeEvent, error)
	Checkpoint(ctx context.Context, sequenceID int64) error
	Close(ctx context.Context) error
}
