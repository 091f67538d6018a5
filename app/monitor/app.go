package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/bakerx/app/query"
	"github.com/canopy-network/bakerx/app/query/live"
	querytypes "github.com/canopy-network/bakerx/app/query/types"
	"github.com/canopy-network/bakerx/pkg/config"
	"github.com/canopy-network/bakerx/pkg/db"
	"github.com/canopy-network/bakerx/pkg/db/memstore"
	"github.com/canopy-network/bakerx/pkg/db/postgres"
	"github.com/canopy-network/bakerx/pkg/db/postgres/chain"
	"github.com/canopy-network/bakerx/pkg/indexer"
	"github.com/canopy-network/bakerx/pkg/jobs"
	"github.com/canopy-network/bakerx/pkg/logging"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/redis"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"github.com/canopy-network/bakerx/pkg/rpc/bitfinex"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"go.uber.org/zap"
)

// accountWorkers bounds the concurrent node queries of one height.
const accountWorkers = 8

type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      db.Store
	Node       rpc.Client
	Metrics    *metrics.Metrics
	Pool       pond.Pool
	Pipeline   *indexer.Pipeline
	Reconciler *indexer.Reconciler
	Scheduler  *scheduler.Scheduler
	Hub        *live.Hub
	// Redis is nil when the event feed is disabled or unreachable.
	Redis *redis.Client
	Query *querytypes.App

	// ctx is cancelled on shutdown and when a job reports a fatal error.
	ctx       context.Context
	cancel    context.CancelFunc
	fatalOnce sync.Once
	fatal     error
}

// Initialize initializes the application.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		logger.Fatal("Invalid configuration", zap.String("path", config.Path()), zap.Error(err))
	}

	app, err := Build(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("Unable to initialize monitor", zap.Error(err))
	}
	return app
}

// Build wires every component from cfg. The store is initialized and seeded before it returns.
func Build(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}
	a.ctx, a.cancel = context.WithCancel(ctx)

	store, err := openStore(ctx, logger, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if err := store.Initialize(ctx, cfg.Seed.Block()); err != nil {
		store.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	a.Node = rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints:       cfg.Node.Endpoints(),
		Token:           cfg.Node.Token,
		Timeout:         cfg.Node.Timeout,
		RPS:             cfg.Node.RPS,
		Burst:           cfg.Node.Burst,
		BreakerFailures: cfg.Node.BreakerFailures,
		BreakerCooldown: cfg.Node.BreakerCooldown,
	})
	a.Pool = pond.NewPool(accountWorkers)
	a.Hub = live.NewHub(logger)

	var publisher indexer.Publisher = a.Hub
	if cfg.Redis.Enabled {
		a.Redis, err = redis.NewClient(ctx, logger, cfg.Redis.Channel)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - events stay in process", zap.Error(err))
			a.Redis = nil
		} else {
			publisher = a.Redis
		}
	}

	a.Reconciler = indexer.NewReconciler(logger, a.Node, store, a.Pool, a.Metrics)
	if err := a.Reconciler.Track(ctx, cfg.Accounts); err != nil {
		a.Close()
		return nil, err
	}
	a.Pipeline = indexer.NewPipeline(logger, a.Node, store, a.Reconciler, a.Pool, indexer.PipelineOptions{
		MaxHeightsPerRun: cfg.MaxHeightsPerRun,
		Metrics:          a.Metrics,
		Publisher:        publisher,
	})

	// Jobs are detached from a.ctx; Stop cancels them once the grace period is spent.
	a.Scheduler = scheduler.New(logger, scheduler.Options{
		Context:     context.WithoutCancel(ctx),
		GracePeriod: scheduler.DefaultGracePeriod,
		Metrics:     a.Metrics,
		OnFatal:     a.onFatal,
	})
	if err := a.registerJobs(); err != nil {
		a.Close()
		return nil, err
	}

	a.Query = &querytypes.App{
		Store:   store,
		Jobs:    a.Scheduler,
		Metrics: a.Metrics,
		Hub:     a.Hub,
		Logger:  logger,
	}
	if err := query.NewServer(a.Query, cfg.ListenAddress); err != nil {
		a.Close()
		return nil, fmt.Errorf("build server: %w", err)
	}
	return a, nil
}

func openStore(ctx context.Context, logger *zap.Logger, cfg *config.Config) (db.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn("Using the in-memory store, nothing survives a restart")
		return memstore.New(), nil
	default:
		pool := postgres.DefaultPoolConfig("monitor")
		if cfg.Postgres.MaxConns > 0 {
			pool.MaxConns = cfg.Postgres.MaxConns
		}
		if cfg.Postgres.MinConns > 0 {
			pool.MinConns = cfg.Postgres.MinConns
		}
		store, err := chain.New(ctx, logger, cfg.Postgres.URL, pool)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return store, nil
	}
}

func (a *App) registerJobs() error {
	table := []struct {
		name string
		job  scheduler.Job
	}{
		{config.JobBlockFetcher, jobs.BlockFetcher(a.Logger, a.Pipeline, a.Reconciler)},
		{config.JobAccountsRefresher, jobs.AccountsRefresher(a.Logger, a.Reconciler)},
		{config.JobPriceRefresher, jobs.PriceRefresher(a.Logger,
			bitfinex.New(a.Logger, a.Config.Prices.BaseURL, a.Config.Node.Timeout),
			a.Store, a.Config.Pairs, a.Metrics)},
		{config.JobStatusChecker, jobs.NewStatusChecker(a.Logger, a.Node, a.Store, a.Config.Status.MaxReports, a.Metrics).Run},
	}
	for _, j := range table {
		spec := a.Config.Schedule(j.name)
		if spec == "" {
			a.Logger.Info("Job not scheduled", zap.String("job", j.name))
			continue
		}
		if err := a.Scheduler.Register(j.name, spec, a.Config.JobTimeout, j.job); err != nil {
			return fmt.Errorf("register %s: %w", j.name, err)
		}
	}
	return nil
}

// onFatal stops the daemon; the watermark is left wherever the last commit put it.
func (a *App) onFatal(job string, err error) {
	a.Logger.Error("Fatal job error, shutting down", zap.String("job", job), zap.Error(err))
	a.fatalOnce.Do(func() {
		a.fatal = fmt.Errorf("job %s: %w", job, err)
		a.cancel()
	})
}

// Start runs the scheduler and the API and blocks until ctx is cancelled or a job fails
// fatally. It returns the fatal error, if any.
func (a *App) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	if a.Redis != nil {
		go a.Hub.Relay(a.ctx, a.Redis)
	}

	a.Scheduler.Start()
	// catch up immediately instead of waiting for the first tick
	go a.Scheduler.RunNow(config.JobBlockFetcher)

	serveErr := a.Query.Start(a.ctx, a.Config.ShutdownTimeout)
	if serveErr != nil {
		a.Logger.Error("API server failed", zap.Error(serveErr))
		a.cancel()
	}
	<-a.ctx.Done()

	a.Stop()
	return errors.Join(a.fatal, serveErr)
}

// Stop waits for running jobs, then releases every connection.
func (a *App) Stop() {
	a.cancel()
	stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout+scheduler.DefaultGracePeriod)
	defer cancel()
	if err := a.Scheduler.Stop(stopCtx); err != nil {
		a.Logger.Warn("Jobs still running at shutdown", zap.Error(err))
	}
	a.Close()
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}

// Close releases the pool, Redis and the store.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.StopAndWait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
