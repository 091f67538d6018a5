//go:build integration

package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	storage "github.com/canopy-network/bakerx/pkg/db"
	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/db/postgres"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap/zaptest"
)

var seedBlock = indexermodels.Block{Height: 2840311, Hash: "994d...f9a8", SlotTimeMs: 1_650_000_000_000, Baker: 3}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bakerx"),
		tcpostgres.WithUsername("bakerx"),
		tcpostgres.WithPassword("bakerx"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := New(ctx, zaptest.NewLogger(t), url, postgres.DefaultPoolConfig("test"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, db.Initialize(ctx, seedBlock))
	return db
}

func TestPostgresStore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	t.Run("seed is idempotent", func(t *testing.T) {
		require.NoError(t, db.Initialize(ctx, seedBlock))
		wm, err := db.GetWatermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, indexermodels.Watermark{Height: seedBlock.Height, Hash: seedBlock.Hash}, wm)
	})

	next := indexermodels.Block{Height: seedBlock.Height + 1, Hash: "a1b2", SlotTimeMs: 1_650_000_010_000, Baker: 7}

	t.Run("block upsert and conflicts", func(t *testing.T) {
		require.NoError(t, db.UpsertBlock(ctx, next))
		require.NoError(t, db.UpsertBlock(ctx, next), "identical row is a no-op")

		err := db.UpsertBlock(ctx, indexermodels.Block{Height: next.Height, Hash: "other", SlotTimeMs: 1})
		require.ErrorIs(t, err, storage.ErrConsistency)

		err = db.UpsertBlock(ctx, indexermodels.Block{Height: next.Height + 10, Hash: next.Hash})
		require.ErrorIs(t, err, storage.ErrConsistency)

		got, err := db.GetBlock(ctx, next.Height)
		require.NoError(t, err)
		assert.Equal(t, next, got)

		_, err = db.GetBlock(ctx, 1)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("rewards are unique per account block and kind", func(t *testing.T) {
		acc, err := db.EnsureAccount(ctx, "4x...")
		require.NoError(t, err)
		assert.Equal(t, indexermodels.AccountPending, acc.State)

		reward := indexermodels.AccountReward{
			AccountID: acc.ID, BlockHash: next.Hash, Amount: decimal.RequireFromString("100"),
			EpochMs: next.SlotTimeMs, Kind: indexermodels.RewardKindBaking,
		}
		inserted, err := db.UpsertReward(ctx, reward)
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = db.UpsertReward(ctx, reward)
		require.NoError(t, err)
		assert.False(t, inserted)

		rewards, err := db.ListRewards(ctx, acc.ID, indexermodels.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, rewards, 1)
		assert.True(t, rewards[0].Amount.Equal(decimal.RequireFromString("100")))
	})

	t.Run("account upsert ignores stale heights", func(t *testing.T) {
		settled := indexermodels.Account{
			Address:         "4x...",
			AvailableAmount: decimal.RequireFromString("243.5"),
			StakedAmount:    decimal.RequireFromString("12.5"),
			LotteryPower:    decimal.RequireFromString("0.02"),
			State:           indexermodels.AccountSettled,
			UpdatedHeight:   next.Height,
		}
		stored, err := db.UpsertAccount(ctx, settled)
		require.NoError(t, err)
		assert.Equal(t, indexermodels.AccountSettled, stored.State)
		assert.Equal(t, "243.5", stored.AvailableAmount.String())

		stale := settled
		stale.UpdatedHeight = seedBlock.Height
		stale.AvailableAmount = decimal.Zero
		stored, err = db.UpsertAccount(ctx, stale)
		require.NoError(t, err)
		assert.Equal(t, "243.5", stored.AvailableAmount.String())

		pending := indexermodels.AccountPending
		list, err := db.ListAccounts(ctx, &pending)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("watermark never goes backwards", func(t *testing.T) {
		require.NoError(t, db.SetWatermark(ctx, indexermodels.Watermark{Height: next.Height, Hash: next.Hash}))
		require.NoError(t, db.SetWatermark(ctx, indexermodels.Watermark{Height: seedBlock.Height, Hash: seedBlock.Hash}))
		wm, err := db.GetWatermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, next.Height, wm.Height)
	})

	t.Run("failed transaction rolls back every write", func(t *testing.T) {
		boom := errors.New("boom")
		orphan := indexermodels.Block{Height: next.Height + 1, Hash: "rolled-back", SlotTimeMs: 5, Baker: 1}
		err := db.WithinTx(ctx, func(ctx context.Context) error {
			require.NoError(t, db.UpsertBlock(ctx, orphan))
			require.NoError(t, db.SetWatermark(ctx, indexermodels.Watermark{Height: orphan.Height, Hash: orphan.Hash}))
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = db.GetBlock(ctx, orphan.Height)
		require.ErrorIs(t, err, storage.ErrNotFound)
		wm, err := db.GetWatermark(ctx)
		require.NoError(t, err)
		assert.Equal(t, next.Height, wm.Height)
	})

	t.Run("blocks filter by baker and slot time", func(t *testing.T) {
		baker := uint64(7)
		blocks, err := db.ListBlocks(ctx, indexermodels.BlockFilter{Baker: &baker}, indexermodels.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, blocks, 1)
		assert.Equal(t, next, blocks[0])

		since := seedBlock.SlotTimeMs
		blocks, err = db.ListBlocks(ctx, indexermodels.BlockFilter{SinceMs: &since}, indexermodels.Page{Limit: 10, Desc: true})
		require.NoError(t, err)
		require.Len(t, blocks, 2)
		assert.Equal(t, next.Height, blocks[0].Height)
	})

	t.Run("prices and statuses", func(t *testing.T) {
		pair := indexermodels.Pair{Base: "BTC", Quote: "USD"}
		require.NoError(t, db.UpsertPrice(ctx, indexermodels.Price{Pair: pair, Bid: 1, Ask: 2}))
		require.NoError(t, db.UpsertPrice(ctx, indexermodels.Price{Pair: pair, Bid: 3, Ask: 4}))
		price, err := db.GetPrice(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, 3.0, price.Bid)

		for i := int64(1); i <= 5; i++ {
			require.NoError(t, db.ReportStatus(ctx, adminmodels.Status{TimestampMs: time.Now().UnixMilli() + i}))
		}
		removed, err := db.GarbageCollectStatuses(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		latest, err := db.LatestStatus(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest.Node)
	})
}
