package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger. Summaries are
// append-only: saved once at run end, never updated.
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSummary appends one run summary to the run-history table.
func (s *RunStorage) SaveSummary(ctx context.Context, summary *models.RunSummary) error {
	if summary.RunID == "" {
		return &models.PersistenceError{Op: "save run summary", Key: "", Err: fmt.Errorf("run ID is required")}
	}

	if err := s.db.Store().Insert(summary.RunID, summary); err != nil {
		return &models.PersistenceError{Op: "save run summary", Key: summary.RunID, Err: err}
	}

	return nil
}

// ListSummaries returns the most recent run summaries, newest first.
func (s *RunStorage) ListSummaries(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := badgerhold.Where("RunID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var summaries []models.RunSummary
	if err := s.db.Store().Find(&summaries, query); err != nil {
		return nil, fmt.Errorf("failed to list run summaries: %w", err)
	}
	return summaries, nil
}
