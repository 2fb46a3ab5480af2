package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RecordStorage implements the RecordStorage interface for Badger.
// Records are keyed by natural key, so writing the same key twice fully
// replaces the earlier record.
type RecordStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRecordStorage creates a new RecordStorage instance
func NewRecordStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RecordStorage {
	return &RecordStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertPage writes one page of records, last write wins per natural key.
func (s *RecordStorage) UpsertPage(ctx context.Context, records []models.Record) (int, error) {
	written := 0
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			return written, &models.PersistenceError{
				Op:  "upsert record",
				Key: r.ExternalID,
				Err: fmt.Errorf("record has no natural key"),
			}
		}

		if err := s.db.Store().Upsert(r.ID, r); err != nil {
			return written, &models.PersistenceError{Op: "upsert record", Key: r.ID, Err: err}
		}
		written++
	}

	return written, nil
}

// GetRecord returns a single record by natural key.
func (s *RecordStorage) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	var record models.Record
	if err := s.db.Store().Get(id, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("record not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &record, nil
}

// ListByResource returns all records of one resource table sorted by key.
func (s *RecordStorage) ListByResource(ctx context.Context, resource models.Resource) ([]models.Record, error) {
	var records []models.Record
	query := badgerhold.Where("Resource").Eq(resource).SortBy("ID")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", resource, err)
	}
	return records, nil
}

// CountByResource returns the number of stored records per resource table.
func (s *RecordStorage) CountByResource(ctx context.Context) (map[models.Resource]int, error) {
	counts := make(map[models.Resource]int)

	resources := append(append([]models.Resource{}, models.GitLabResources...), models.AWSCostResources...)
	for _, resource := range resources {
		count, err := s.db.Store().Count(&models.Record{}, badgerhold.Where("Resource").Eq(resource))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s records: %w", resource, err)
		}
		counts[resource] = int(count)
	}

	return counts, nil
}

// CountByProject returns per (source, project) counts for one resource.
func (s *RecordStorage) CountByProject(ctx context.Context, resource models.Resource) (map[string]int, error) {
	var records []models.Record
	if err := s.db.Store().Find(&records, badgerhold.Where("Resource").Eq(resource)); err != nil {
		return nil, fmt.Errorf("failed to load %s records: %w", resource, err)
	}

	counts := make(map[string]int)
	for i := range records {
		key := fmt.Sprintf("%s/%s", records[i].Source, records[i].ProjectID)
		counts[key]++
	}

	return counts, nil
}
