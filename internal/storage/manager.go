package storage

import (
	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
)

// Manager implements interfaces.StorageManager over a single LedgerStore.
type Manager struct {
	ledger  interfaces.LedgerStore
	backend string
	logger  *common.Logger
}

// NewManager wraps an opened ledger store.
func NewManager(logger *common.Logger, backend string, ledger interfaces.LedgerStore) *Manager {
	logger.Info().Str("backend", backend).Msg("Storage manager initialized")
	return &Manager{ledger: ledger, backend: backend, logger: logger}
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledger
}

func (m *Manager) Backend() string {
	return m.backend
}

func (m *Manager) Close() error {
	return m.ledger.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
