package app

import (
	"context"
	"fmt"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

const schemaVersionKey = "papertrade_schema_version"

// checkSchemaVersion compares the stored schema version against
// models.SchemaVersion. On mismatch, missing version or when forced, every
// user's position projection is rebuilt from the trade log and the new
// version stored. Returns an error only when the rebuild itself fails.
func checkSchemaVersion(ctx context.Context, store interfaces.LedgerStore, force bool, logger *common.Logger) error {
	stored, err := store.GetSystemKV(ctx, schemaVersionKey)
	if err == nil && stored == models.SchemaVersion && !force {
		logger.Info().
			Str("version", models.SchemaVersion).
			Msg("Schema version matches, no rebuild needed")
		return nil
	}

	switch {
	case force:
		logger.Info().Msg("Position rebuild requested by configuration")
	case err != nil || stored == "":
		logger.Info().
			Str("current", models.SchemaVersion).
			Msg("Schema version not found, initializing")
	default:
		logger.Warn().
			Str("stored", stored).
			Str("current", models.SchemaVersion).
			Msg("Schema version mismatch, rebuilding positions")
	}

	users, err := rebuildAllPositions(ctx, store)
	if err != nil {
		return err
	}

	if err := store.SetSystemKV(ctx, schemaVersionKey, models.SchemaVersion); err != nil {
		return fmt.Errorf("failed to store schema version: %w", err)
	}

	logger.Info().
		Int("users", users).
		Str("new_version", models.SchemaVersion).
		Msg("Position projection rebuilt from trade log")
	return nil
}

// rebuildAllPositions recomputes the projection for every user.
func rebuildAllPositions(ctx context.Context, store interfaces.LedgerStore) (int, error) {
	ids, err := store.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users for rebuild: %w", err)
	}
	for _, id := range ids {
		if err := store.RebuildPositions(ctx, id); err != nil {
			return 0, fmt.Errorf("failed to rebuild positions for user %d: %w", id, err)
		}
	}
	return len(ids), nil
}
