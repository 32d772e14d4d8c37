package storage

import (
	"context"

	"github.com/poiesic/gazette/core"
)

// UpsertResult reports the outcome of a write. Every input record is
// counted either in Written or in Failed.
type UpsertResult struct {
	Written int
	Failed  []core.RecordError
}

// Collection is a named set of chunk records with their embedding vectors.
// Implementations must be thread-safe and support concurrent access.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Upsert embeds and writes records, overwriting any record with the same
	// ID. Records that fail validation or embedding are reported in the
	// result and never written. Successful records are written atomically.
	Upsert(ctx context.Context, records ...*core.ChunkRecord) (*UpsertResult, error)

	// UpsertEmbedded writes records with precomputed vectors. vectors[i]
	// belongs to records[i].
	UpsertEmbedded(ctx context.Context, records []*core.ChunkRecord, vectors [][]float32) (*UpsertResult, error)

	// ReplaceFamily upserts records, all of which must belong to parentURL,
	// and removes every other stored chunk of parentURL in the same
	// transaction. Failed records are reported in the result while their
	// siblings are still written. If no record can be written, nothing
	// changes.
	ReplaceFamily(ctx context.Context, parentURL string, records ...*core.ChunkRecord) (*UpsertResult, error)

	// Get retrieves a record by ID. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*core.ChunkRecord, error)

	// Exists reports whether Get would succeed for id.
	Exists(ctx context.Context, id string) (bool, error)

	// Family returns every stored chunk of parentURL ordered by ChunkIndex.
	Family(ctx context.Context, parentURL string) ([]*core.ChunkRecord, error)

	// Query embeds text and returns the k nearest records matching filter,
	// closest first. Ties are broken by insertion order.
	Query(ctx context.Context, text string, k int, filter core.Filter) ([]*core.SearchResult, error)

	// QueryVector is Query with a precomputed query vector. Stored vectors
	// whose length differs from vector are skipped.
	QueryVector(ctx context.Context, vector []float32, k int, filter core.Filter) ([]*core.SearchResult, error)

	// List returns up to limit records in insertion order. limit <= 0
	// returns all records.
	List(ctx context.Context, limit int) ([]*core.ChunkRecord, error)

	// ForEach calls fn with successive batches of at most batchSize records
	// in key order. Iteration stops at the first error.
	ForEach(ctx context.Context, batchSize int, fn func(records []*core.ChunkRecord) error) error

	// Delete removes records by ID and returns how many existed.
	// Missing IDs are ignored.
	Delete(ctx context.Context, ids ...string) (int, error)

	// DeleteByFilter removes every record matching filter. An empty filter
	// is rejected with ErrInvalidQuery; use Reset to clear the collection.
	DeleteByFilter(ctx context.Context, filter core.Filter) (int, error)

	// DeleteFamily removes every chunk of parentURL.
	DeleteFamily(ctx context.Context, parentURL string) (int, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Reset irreversibly removes every record in the collection.
	Reset(ctx context.Context) error
}

// CheckpointStore persists progress markers for long-running jobs so they
// can resume after interruption.
type CheckpointStore interface {
	// SaveCheckpoint persists a checkpoint, replacing any with the same name.
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the named checkpoint.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*Checkpoint, error)

	// DeleteCheckpoint removes the named checkpoint. Missing names are ignored.
	DeleteCheckpoint(ctx context.Context, name string) error
}
