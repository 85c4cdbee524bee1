// Package storage selects and opens the configured ledger backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/storage/badger"
	"github.com/bobmcallan/papertrade/internal/storage/postgres"
	"github.com/bobmcallan/papertrade/internal/storage/surrealdb"
)

// NewStorageManager opens the backend named by config.Storage.Backend.
// Supported backends: "badger" (default), "surrealdb", "postgres".
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = common.BackendBadger
	}

	switch backend {
	case common.BackendBadger:
		store, err := badger.NewStore(logger, config.Storage.Badger.Path)
		if err != nil {
			return nil, err
		}
		return NewManager(logger, backend, store), nil

	case common.BackendPostgres:
		store, err := postgres.NewStore(ctx, logger, config.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return NewManager(logger, backend, store), nil

	case common.BackendSurrealDB:
		return surrealdb.NewManager(logger, config)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: badger, surrealdb, postgres)", backend)
	}
}
