package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"syncservice/internal/broker"
	"syncservice/internal/config"
	"syncservice/internal/database"
	"syncservice/internal/database/migrations"
	"syncservice/internal/engine"
	"syncservice/internal/model"
	"syncservice/internal/outbox"
	"syncservice/internal/rpc"
)

// SyncApp is the application layer between the CLI and the engine.
// It constructs all dependencies from config, runs both RPC listeners,
// and releases the storage pool on Close.
type SyncApp struct {
	cfg     *config.Config
	logger  engine.Logger
	logFile *os.File
	pool    *engine.HandlerPool
	broker  *broker.Broker
	queue   *outbox.Queue
	fanout  *engine.Fanout
	service *rpc.Service
	api     *rpc.API
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// SQL storage must already be migrated. The caller must call Close when done.
func NewSyncApp(ctx context.Context, cfg *config.Config) (*SyncApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l, logFile, err := newLogger(cfg.LogDir, cfg.InstanceID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: l}

	if err := checkMigrations(ctx, cfg.Storage, logger); err != nil {
		logFile.Close()
		return nil, err
	}

	stores, err := database.NewStoresFromConfig(ctx, cfg.Storage, cfg.Server.PoolSize, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	pool, err := engine.NewHandlerPool(stores, logger, engine.RealClock{}, engine.UUIDGenerator{})
	if err != nil {
		for _, s := range stores {
			s.Close()
		}
		logFile.Close()
		return nil, fmt.Errorf("creating handler pool: %w", err)
	}

	b := broker.New(logger)
	var (
		notifier engine.Notifier = b
		queue    *outbox.Queue
	)
	if cfg.Notifications.Mode == "async" {
		queue = outbox.New(b, cfg.Notifications.QueueSize, logger)
		notifier = queue
	}
	fanout := engine.NewFanout(notifier, logger, engine.ULIDGenerator{})

	logger.Info("service ready", "storage", cfg.Storage.Type, "pool_size", pool.Size(),
		"notifications", notificationMode(cfg))

	return &SyncApp{
		cfg:     cfg,
		logger:  logger,
		logFile: logFile,
		pool:    pool,
		broker:  b,
		queue:   queue,
		fanout:  fanout,
		service: rpc.NewService(pool, fanout, logger),
		api:     rpc.NewAPI(pool, fanout, logger),
	}, nil
}

func notificationMode(cfg *config.Config) string {
	if cfg.Notifications.Mode == "" {
		return "sync"
	}
	return cfg.Notifications.Mode
}

// checkMigrations refuses to start on an SQL schema that is not current.
func checkMigrations(ctx context.Context, cfg config.StorageConfig, logger engine.Logger) error {
	store, err := database.OpenMigrationTarget(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if store == nil {
		return nil
	}
	defer store.Close()

	if err := migrations.CheckDBMigrationStatus(store.DB(), store.Dialect()); err != nil {
		return fmt.Errorf("database schema out of date (run migrate): %w", err)
	}
	return nil
}

// Serve listens on the configured rpc and api addresses until ctx is cancelled.
func (a *SyncApp) Serve(ctx context.Context) error {
	rpcLn, err := net.Listen("tcp", a.cfg.Server.RPCAddr)
	if err != nil {
		return fmt.Errorf("rpc listener: %w", err)
	}
	apiLn, err := net.Listen("tcp", a.cfg.Server.APIAddr)
	if err != nil {
		rpcLn.Close()
		return fmt.Errorf("api listener: %w", err)
	}
	return a.ServeListeners(ctx, rpcLn, apiLn)
}

// ServeListeners runs the websocket RPC server on rpcLn and the web API on
// apiLn. Both stop when ctx is cancelled or either one fails. In async
// notification mode the outbox worker runs alongside them and drains what
// is queued before returning.
func (a *SyncApp) ServeListeners(ctx context.Context, rpcLn, apiLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	rpcRouter := rpc.NewRPCRouter(a.service, a.broker, broker.DefaultSessionSettings(), engine.UUIDGenerator{}, a.logger)
	apiRouter := rpc.NewAPIRouter(a.api, a.logger)

	g.Go(func() error {
		return rpc.NewServer("rpc", rpcLn.Addr().String(), rpcRouter, a.logger).ServeListener(gctx, rpcLn)
	})
	g.Go(func() error {
		return rpc.NewServer("api", apiLn.Addr().String(), apiRouter, a.logger).ServeListener(gctx, apiLn)
	})
	if a.queue != nil {
		g.Go(func() error {
			return a.queue.Run(gctx)
		})
	}

	return g.Wait()
}

// CreateUser registers a user together with their personal workspace.
func (a *SyncApp) CreateUser(ctx context.Context, name, email string) (*model.User, *model.Workspace, error) {
	return a.pool.Get().CreateUser(ctx, name, email)
}

// Broker returns the notification broker the RPC sessions subscribe to.
func (a *SyncApp) Broker() *broker.Broker {
	return a.broker
}

// Close closes the storage pool and the log file.
func (a *SyncApp) Close() error {
	var errs []error
	if a.queue != nil {
		delivered, failed, dropped := a.queue.Stats()
		a.logger.Info("outbox stats", "delivered", delivered, "failed", failed, "dropped", dropped)
	}
	if err := a.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}
