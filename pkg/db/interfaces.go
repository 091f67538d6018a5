package db

import (
	"context"

	"github.com/canopy-network/bakerx/pkg/db/models/admin"
	"github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

// Transactor runs fn inside one transaction. Store calls made with the ctx handed to fn join
// that transaction; fn returning an error rolls everything back. Nested calls reuse the
// outer transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// IngestStore is the write surface used by the ingestion pipeline and the reconciler.
type IngestStore interface {
	Transactor
	GetWatermark(ctx context.Context) (indexer.Watermark, error)
	// SetWatermark never lowers the stored height.
	SetWatermark(ctx context.Context, wm indexer.Watermark) error
	// UpsertBlock is a no-op for an identical row and fails with ErrConsistency when the
	// height or the hash is already bound to a different counterpart.
	UpsertBlock(ctx context.Context, block indexer.Block) error
	GetBlock(ctx context.Context, height uint64) (indexer.Block, error)
	// EnsureAccount creates a pending account with zero amounts when address is unknown and
	// returns the stored row.
	EnsureAccount(ctx context.Context, address string) (indexer.Account, error)
	// UpsertAccount writes amounts, lottery power and state in one statement. Rows read at a
	// lower height than the stored one are ignored.
	UpsertAccount(ctx context.Context, account indexer.Account) (indexer.Account, error)
	GetAccount(ctx context.Context, address string) (indexer.Account, error)
	ListAccounts(ctx context.Context, state *indexer.AccountState) ([]indexer.Account, error)
	// UpsertReward inserts the reward unless (account, block, kind) exists. It reports
	// whether a row was written.
	UpsertReward(ctx context.Context, reward indexer.AccountReward) (bool, error)
}

// QueryStore is the read surface served by the HTTP API.
type QueryStore interface {
	GetWatermark(ctx context.Context) (indexer.Watermark, error)
	GetAccount(ctx context.Context, address string) (indexer.Account, error)
	ListRewards(ctx context.Context, accountID int64, page indexer.Page) ([]indexer.AccountReward, error)
	ListBlocks(ctx context.Context, filter indexer.BlockFilter, page indexer.Page) ([]indexer.Block, error)
	GetPrice(ctx context.Context, pair indexer.Pair) (indexer.Price, error)
	LatestStatus(ctx context.Context) (admin.Status, error)
	Ping(ctx context.Context) error
}

// PriceStore is used by the price refresher.
type PriceStore interface {
	UpsertPrice(ctx context.Context, price indexer.Price) error
}

// StatusStore is used by the status checker.
type StatusStore interface {
	ReportStatus(ctx context.Context, status admin.Status) error
	// GarbageCollectStatuses keeps the `keep` most recent reports and returns how many were removed.
	GarbageCollectStatuses(ctx context.Context, keep int) (int64, error)
}

// Store is everything the daemon needs from persistence.
type Store interface {
	IngestStore
	QueryStore
	PriceStore
	StatusStore
	// Initialize creates the schema and seeds the watermark with seed when absent.
	Initialize(ctx context.Context, seed indexer.Block) error
	Close()
}
