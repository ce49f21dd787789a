package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"syncservice/internal/database/migrations"
	"syncservice/internal/engine"
)

// PoolOptions controls how pooled connections are opened.
type PoolOptions struct {
	Size int
	// ConnectTimeout bounds the retry of the initial ping of each connection.
	ConnectTimeout time.Duration
	Logger         engine.Logger
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = engine.NewNopLogger()
	}
	return o
}

// SQLiteDSN returns the connection string used for a SQLite database file.
// Writers take the lock at BEGIN and wait on each other instead of failing.
func SQLiteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_journal_mode", "WAL")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLitePool opens size independent connections to the SQLite database
// at path. An in-memory database cannot be shared between connections, so
// ":memory:" is only accepted with a pool of one.
func OpenSQLitePool(ctx context.Context, path string, opts PoolOptions) ([]*SQLStore, error) {
	opts = opts.withDefaults()
	if path == ":memory:" && opts.Size != 1 {
		return nil, fmt.Errorf("in-memory sqlite database requires a pool size of 1, got %d", opts.Size)
	}

	return openPool(ctx, opts, func() (*SQLStore, error) {
		db, err := sql.Open("sqlite3", SQLiteDSN(path))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// One connection per store: the store is the pooled connection.
		db.SetMaxOpenConns(1)
		if path == ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
			}
		}
		return &SQLStore{db: db, dialect: migrations.DialectSQLite, path: path}, nil
	})
}

// MySQLConfig parses dsn and sets the options the store relies on:
// time parsing in UTC, multi-statement migrations, and found-rows semantics
// for updates.
func MySQLConfig(dsn string) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.MultiStatements = true
	cfg.ClientFoundRows = true
	return cfg, nil
}

// OpenMySQLPool opens size independent connections to the MySQL database at dsn.
func OpenMySQLPool(ctx context.Context, dsn string, opts PoolOptions) ([]*SQLStore, error) {
	opts = opts.withDefaults()
	cfg, err := MySQLConfig(dsn)
	if err != nil {
		return nil, err
	}

	return openPool(ctx, opts, func() (*SQLStore, error) {
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating mysql connector: %w", err)
		}
		db := sql.OpenDB(connector)
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(time.Hour)
		return &SQLStore{db: db, dialect: migrations.DialectMySQL}, nil
	})
}

func openPool(ctx context.Context, opts PoolOptions, open func() (*SQLStore, error)) ([]*SQLStore, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}

	stores := make([]*SQLStore, 0, opts.Size)
	closeAll := func() {
		for _, s := range stores {
			s.Close()
		}
	}

	for i := 0; i < opts.Size; i++ {
		s, err := open()
		if err != nil {
			closeAll()
			return nil, err
		}
		stores = append(stores, s)

		if err := pingWithBackoff(ctx, s.db, opts.ConnectTimeout, opts.Logger); err != nil {
			closeAll()
			return nil, fmt.Errorf("connecting pooled store %d: %w", i, err)
		}
	}

	opts.Logger.Info("storage pool opened", "dialect", stores[0].dialect, "size", len(stores))
	return stores, nil
}

// pingWithBackoff retries the first ping with exponential backoff so the
// service can start while its database is still coming up.
func pingWithBackoff(ctx context.Context, db *sql.DB, timeout time.Duration, logger engine.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout

	retryable := func() error {
		return db.PingContext(ctx)
	}
	notify := func(err error, d time.Duration) {
		logger.Warn("database not ready, retrying", "error", err, "backoff", d)
	}

	if err := backoff.RetryNotify(retryable, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("database unreachable after %s: %w", timeout, err)
	}
	return nil
}

// AsStorage converts stores to the engine's capability interface.
func AsStorage(stores []*SQLStore) []engine.Storage {
	out := make([]engine.Storage, len(stores))
	for i, s := range stores {
		out[i] = s
	}
	return out
}
