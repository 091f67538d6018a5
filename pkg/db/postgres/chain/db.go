package chain

import (
	"context"
	"fmt"
	"time"

	storage "github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/db/postgres"
	"github.com/canopy-network/bakerx/pkg/retry"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var _ storage.Store = (*DB)(nil)

// DB is the PostgreSQL implementation of db.Store.
type DB struct {
	postgres.Client
}

// New connects to url. Call Initialize before use.
func New(ctx context.Context, logger *zap.Logger, url string, poolConfig postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger.With(zap.String("component", poolConfig.Component)), url, poolConfig, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &DB{Client: client}, nil
}

// Initialize creates the tables in dependency order, then seeds the first block and the
// watermark if the watermark is absent.
func (db *DB) Initialize(ctx context.Context, seed indexermodels.Block) error {
	initStart := time.Now()

	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"blocks", db.initBlocks},
		{"accounts", db.initAccounts},
		{"account_rewards", db.initAccountRewards},
		{"watermark", db.initWatermark},
		{"prices", db.initPrices},
		{"statuses", db.initStatuses},
	}
	for _, op := range initOps {
		db.Logger.Debug("Initializing table", zap.String("table", op.name))
		if err := op.fn(ctx); err != nil {
			return db.StorageError("init "+op.name, err)
		}
	}

	if err := db.seed(ctx, seed); err != nil {
		return err
	}

	db.Logger.Info("Database initialized successfully",
		zap.Uint64("seed_height", seed.Height),
		zap.Duration("duration", time.Since(initStart)))
	return nil
}

// WithinTx runs fn in a transaction carried by the context handed to fn.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.InTx(ctx) {
		return fn(ctx)
	}

	var fnErr error
	err := db.BeginFunc(ctx, func(tx pgx.Tx) error {
		fnErr = fn(db.WithTx(ctx, tx))
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return db.StorageError("transaction", err)
}

// StorageError wraps err as storage.ErrStorage. A unique violation that slipped past an
// ON CONFLICT clause means another writer stored a different row first, so it is reported as
// a consistency error instead.
func (db *DB) StorageError(op string, err error) error {
	if constraint, ok := postgres.IsUniqueViolation(err); ok {
		return &storage.ConsistencyError{
			Entity:   op,
			Key:      constraint,
			Stored:   "existing row",
			Incoming: err.Error(),
		}
	}
	return storage.StorageError(op, err)
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.StorageError("ping", db.Client.Ping(ctx))
}

// notFound maps pgx.ErrNoRows to storage.ErrNotFound.
func notFound(op string, err error) error {
	if postgres.IsNoRows(err) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return storage.StorageError(op, err)
}
