package badger

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
)

// Manager bundles the badger-backed storage services behind StorageManager
type Manager struct {
	db        *BadgerDB
	jobs      interfaces.JobStorage
	documents interfaces.DocumentStorage
	batches   interfaces.BatchStorage
	kv        interfaces.KeyValueStorage
	logger    arbor.ILogger
}

// NewManager opens the database and wires up all storage services
func NewManager(config *common.BadgerConfig, logger arbor.ILogger) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize badger storage: %w", err)
	}

	return &Manager{
		db:        db,
		jobs:      NewJobStorage(db, logger),
		documents: NewDocumentStorage(db, logger),
		batches:   NewBatchStorage(db, logger),
		kv:        NewKVStorage(db, logger),
		logger:    logger,
	}, nil
}

// DB exposes the underlying connection for the queue, which shares the
// same badger instance but works below badgerhold
func (m *Manager) DB() *BadgerDB {
	return m.db
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobs
}

func (m *Manager) DocumentStorage() interfaces.DocumentStorage {
	return m.documents
}

func (m *Manager) BatchStorage() interfaces.BatchStorage {
	return m.batches
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing storage manager")
	return m.db.Close()
}
