package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// CursorStorage implements the CursorStorage interface for Badger.
//
// Advances for the same key are serialized through a per-key mutex; advances
// for different keys proceed in parallel. With SyncWrites enabled on the
// connection, Advance is durable before it returns, which is what the
// page-write-then-advance ordering in the workers relies on.
type CursorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCursorStorage creates a new CursorStorage instance
func NewCursorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CursorStorage {
	return &CursorStorage{
		db:     db,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex serializing writes for one cursor key.
func (s *CursorStorage) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Load returns the cursor for a key, or ErrCursorNotFound for a first fetch.
func (s *CursorStorage) Load(ctx context.Context, source models.Source, projectID string, resource models.Resource) (*models.Cursor, error) {
	key := models.CursorKey(source, projectID, resource)

	var cursor models.Cursor
	if err := s.db.Store().Get(key, &cursor); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrCursorNotFound
		}
		return nil, fmt.Errorf("failed to load cursor %s: %w", key, err)
	}

	return &cursor, nil
}

// Advance durably writes a new cursor position. Generations never move
// backwards; a stale advance (lower generation than stored) is rejected.
func (s *CursorStorage) Advance(ctx context.Context, cursor *models.Cursor) error {
	if cursor.Key == "" {
		cursor.Key = models.CursorKey(cursor.Source, cursor.ProjectID, cursor.Resource)
	}

	lock := s.keyLock(cursor.Key)
	lock.Lock()
	defer lock.Unlock()

	var existing models.Cursor
	err := s.db.Store().Get(cursor.Key, &existing)
	if err != nil && err != badgerhold.ErrNotFound {
		return &models.PersistenceError{Op: "advance cursor", Key: cursor.Key, Err: err}
	}
	if err == nil && cursor.Generation < existing.Generation {
		return &models.PersistenceError{
			Op:  "advance cursor",
			Key: cursor.Key,
			Err: fmt.Errorf("stale generation %d, store has %d", cursor.Generation, existing.Generation),
		}
	}

	cursor.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(cursor.Key, cursor); err != nil {
		return &models.PersistenceError{Op: "advance cursor", Key: cursor.Key, Err: err}
	}

	s.logger.Debug().
		Str("cursor", cursor.Key).
		Str("page_token", cursor.PageToken).
		Int("generation", cursor.Generation).
		Msg("Cursor advanced")

	return nil
}

// List returns all cursors, for diagnostics.
func (s *CursorStorage) List(ctx context.Context) ([]models.Cursor, error) {
	var cursors []models.Cursor
	if err := s.db.Store().Find(&cursors, badgerhold.Where("Key").Ne("").SortBy("Key")); err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return cursors, nil
}
