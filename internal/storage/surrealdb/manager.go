package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	ledger *LedgerStore
}

// schema is applied at connect time. SurrealDB v3 errors on querying
// tables that do not exist, so every table is defined up front.
var schema = []string{
	"DEFINE TABLE IF NOT EXISTS account SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS account_username ON account FIELDS username UNIQUE",
	"DEFINE TABLE IF NOT EXISTS trade SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS trade_user ON trade FIELDS user_id",
	"DEFINE TABLE IF NOT EXISTS position SCHEMALESS",
	"DEFINE INDEX IF NOT EXISTS position_user ON position FIELDS user_id",
	"DEFINE TABLE IF NOT EXISTS counter SCHEMALESS",
	"DEFINE TABLE IF NOT EXISTS system_kv SCHEMALESS",
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()
	cfg := config.Storage.SurrealDB

	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	for _, sql := range schema {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to apply schema %q: %w", sql, err)
		}
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB storage manager initialized")

	return &Manager{
		db:     db,
		logger: logger,
		ledger: NewLedgerStore(db, logger),
	}, nil
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledger
}

func (m *Manager) Backend() string {
	return common.BackendSurrealDB
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
