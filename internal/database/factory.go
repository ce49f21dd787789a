package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"syncservice/internal/cache"
	"syncservice/internal/config"
	"syncservice/internal/engine"
)

// DBFileName is the SQLite database file inside storage.data_dir.
const DBFileName = "syncservice.db"

// NewStoresFromConfig opens size Storage connections based on the storage config type.
func NewStoresFromConfig(ctx context.Context, cfg config.StorageConfig, size int, logger engine.Logger) ([]engine.Storage, error) {
	opts, err := poolOptions(cfg, size, logger)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "sqlite":
		path, err := SQLitePath(cfg)
		if err != nil {
			return nil, err
		}
		stores, err := OpenSQLitePool(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return AsStorage(stores), nil
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for mysql storage")
		}
		stores, err := OpenMySQLPool(ctx, cfg.DSN, opts)
		if err != nil {
			return nil, err
		}
		return AsStorage(stores), nil
	case "memory":
		if size < 1 {
			return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
		}
		return cache.OpenPool(size), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// OpenMigrationTarget opens a single SQL connection for schema work.
// The memory storage type has no schema and returns (nil, nil).
func OpenMigrationTarget(ctx context.Context, cfg config.StorageConfig, logger engine.Logger) (*SQLStore, error) {
	opts, err := poolOptions(cfg, 1, logger)
	if err != nil {
		return nil, err
	}

	var stores []*SQLStore
	switch cfg.Type {
	case "sqlite":
		path, err := SQLitePath(cfg)
		if err != nil {
			return nil, err
		}
		stores, err = OpenSQLitePool(ctx, path, opts)
		if err != nil {
			return nil, err
		}
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for mysql storage")
		}
		stores, err = OpenMySQLPool(ctx, cfg.DSN, opts)
		if err != nil {
			return nil, err
		}
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
	return stores[0], nil
}

// SQLitePath returns the database file for a sqlite storage config,
// creating data_dir if needed.
func SQLitePath(cfg config.StorageConfig) (string, error) {
	if cfg.DataDir == "" {
		return "", fmt.Errorf("data_dir required for sqlite storage")
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return "", fmt.Errorf("creating data_dir: %w", err)
	}
	return filepath.Join(cfg.DataDir, DBFileName), nil
}

func poolOptions(cfg config.StorageConfig, size int, logger engine.Logger) (PoolOptions, error) {
	opts := PoolOptions{Size: size, Logger: logger}
	if cfg.ConnectTimeout != "" {
		d, err := time.ParseDuration(cfg.ConnectTimeout)
		if err != nil {
			return opts, fmt.Errorf("invalid connect_timeout %q: %w", cfg.ConnectTimeout, err)
		}
		opts.ConnectTimeout = d
	}
	return opts, nil
}
