package app

import (
	"context"
	"fmt"

	"syncservice/internal/config"
	"syncservice/internal/database"
	"syncservice/internal/database/migrations"
	"syncservice/internal/engine"
)

// Migrate applies pending schema migrations to the configured SQL storage.
// Memory storage has no schema and is left alone.
func Migrate(ctx context.Context, cfg *config.Config) error {
	store, err := database.OpenMigrationTarget(ctx, cfg.Storage, engine.NewNopLogger())
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if store == nil {
		return nil
	}
	defer store.Close()

	if err := migrations.MigrateUp(store.DB(), store.Dialect()); err != nil {
		return fmt.Errorf("migrating %s storage: %w", store.Dialect(), err)
	}
	return nil
}
