package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/colligo/internal/models"
)

// ErrCursorNotFound is returned by CursorStorage.Load when no cursor exists
// for a key, signalling a full/initial fetch.
var ErrCursorNotFound = errors.New("cursor not found")

// RecordStorage persists normalized records keyed by natural key.
// Writes are upserts: re-fetching replaces, never duplicates.
type RecordStorage interface {
	// UpsertPage writes one page of records and returns the number written.
	// Safe to call concurrently for different (project, resource) keys; the
	// same key is only ever written by its single owning worker.
	UpsertPage(ctx context.Context, records []models.Record) (int, error)

	// GetRecord returns a single record by natural key.
	GetRecord(ctx context.Context, id string) (*models.Record, error)

	// ListByResource returns all records of one resource table, for export.
	ListByResource(ctx context.Context, resource models.Resource) ([]models.Record, error)

	// CountByResource returns the number of stored records per resource.
	CountByResource(ctx context.Context) (map[models.Resource]int, error)

	// CountByProject returns per (source, project) record counts for one
	// resource, for the dataset overview.
	CountByProject(ctx context.Context, resource models.Resource) (map[string]int, error)
}

// CursorStorage persists fetch progress per (source, project, resource).
// Advance is durable before it returns; callers rely on this ordering for
// crash safety. Advances for the same key are serialized, different keys
// proceed in parallel. Cursors are never deleted, only superseded by newer
// generations.
type CursorStorage interface {
	Load(ctx context.Context, source models.Source, projectID string, resource models.Resource) (*models.Cursor, error)
	Advance(ctx context.Context, cursor *models.Cursor) error
	List(ctx context.Context) ([]models.Cursor, error)
}

// RunStorage appends run summaries to the run-history table.
type RunStorage interface {
	SaveSummary(ctx context.Context, summary *models.RunSummary) error
	ListSummaries(ctx context.Context, limit int) ([]models.RunSummary, error)
}

// StorageManager bundles the stores backed by one database.
type StorageManager interface {
	Records() RecordStorage
	Cursors() CursorStorage
	Runs() RunStorage
	Close() error
}
