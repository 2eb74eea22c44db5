package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/pathguard"
)

// openStore validates the configured database path, opens the store and
// applies migrations.
func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	path, err := pathguard.Validate(cfg.Store.Path, cfg.Store.AllowedRoot)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Store, path)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	observability.Debug("Opened deadline store",
		zap.String("driver", db.Driver()),
		zap.String("path", path.String()))
	return db, nil
}
