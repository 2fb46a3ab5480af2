package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	records interfaces.RecordStorage
	cursors interfaces.CursorStorage
	runs    interfaces.RunStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		records: NewRecordStorage(db, logger),
		cursors: NewCursorStorage(db, logger),
		runs:    NewRunStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// Records returns the record storage interface
func (m *Manager) Records() interfaces.RecordStorage {
	return m.records
}

// Cursors returns the cursor storage interface
func (m *Manager) Cursors() interfaces.CursorStorage {
	return m.cursors
}

// Runs returns the run-history storage interface
func (m *Manager) Runs() interfaces.RunStorage {
	return m.runs
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
