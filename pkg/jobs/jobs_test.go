package jobs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/canopy-network/bakerx/pkg/db"
	"github.com/canopy-network/bakerx/pkg/db/memstore"
	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/indexer"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type ingesterFunc func(ctx context.Context) (indexer.Result, error)

func (f ingesterFunc) Run(ctx context.Context) (indexer.Result, error) { return f(ctx) }

type refresherFunc func(ctx context.Context) (indexer.RefreshResult, error)

func (f refresherFunc) RefreshAll(ctx context.Context) (indexer.RefreshResult, error) { return f(ctx) }

type settlerFunc func(ctx context.Context) (indexer.RefreshResult, error)

func (f settlerFunc) SettlePending(ctx context.Context) (indexer.RefreshResult, error) { return f(ctx) }

type priceSourceFunc func(ctx context.Context, pairs []indexermodels.Pair) ([]indexermodels.Price, error)

func (f priceSourceFunc) Prices(ctx context.Context, pairs []indexermodels.Pair) ([]indexermodels.Price, error) {
	return f(ctx, pairs)
}

func TestBlockFetcher(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("success", func(t *testing.T) {
		job := BlockFetcher(logger, ingesterFunc(func(context.Context) (indexer.Result, error) {
			return indexer.Result{StartWatermark: 1, Watermark: 3, Finalized: 3, Heights: 2, Reason: indexer.StopCaughtUp}, nil
		}), nil)
		require.NoError(t, job(context.Background()))
	})

	t.Run("transient errors are retried next tick", func(t *testing.T) {
		job := BlockFetcher(logger, ingesterFunc(func(context.Context) (indexer.Result, error) {
			return indexer.Result{StartWatermark: 1}, fmt.Errorf("%w: node down", rpc.ErrTransient)
		}), nil)
		err := job(context.Background())
		require.ErrorIs(t, err, rpc.ErrTransient)
		assert.NotErrorIs(t, err, scheduler.ErrFatal)
	})

	t.Run("conflicts stop the run only", func(t *testing.T) {
		job := BlockFetcher(logger, ingesterFunc(func(context.Context) (indexer.Result, error) {
			return indexer.Result{}, &db.ConsistencyError{Entity: "block"}
		}), nil)
		err := job(context.Background())
		require.ErrorIs(t, err, db.ErrConsistency)
		assert.NotErrorIs(t, err, scheduler.ErrFatal)
	})

	t.Run("storage failures are fatal", func(t *testing.T) {
		job := BlockFetcher(logger, ingesterFunc(func(context.Context) (indexer.Result, error) {
			return indexer.Result{}, db.StorageError("commit", errors.New("disk full"))
		}), nil)
		err := job(context.Background())
		require.ErrorIs(t, err, scheduler.ErrFatal)
		assert.ErrorIs(t, err, db.ErrStorage)
	})
}

func TestBlockFetcherSettlesPendingAccounts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	pending := 0
	ingest := ingesterFunc(func(context.Context) (indexer.Result, error) {
		return indexer.Result{Watermark: 3, Finalized: 3, Heights: 1, Pending: pending, Reason: indexer.StopCaughtUp}, nil
	})
	var settles int
	var settleErr error
	settler := settlerFunc(func(context.Context) (indexer.RefreshResult, error) {
		settles++
		return indexer.RefreshResult{Height: 3, Settled: 1}, settleErr
	})
	job := BlockFetcher(logger, ingest, settler)

	require.NoError(t, job(context.Background()))
	assert.Zero(t, settles, "nothing pending, nothing to settle")

	pending = 2
	require.NoError(t, job(context.Background()))
	assert.Equal(t, 1, settles)

	settleErr = fmt.Errorf("%w: node down", rpc.ErrTransient)
	require.NoError(t, job(context.Background()), "the refresher retries pending accounts later")

	settleErr = db.StorageError("upsert account", errors.New("conn reset"))
	require.ErrorIs(t, job(context.Background()), scheduler.ErrFatal)
	assert.Equal(t, 3, settles)
}

func TestAccountsRefresher(t *testing.T) {
	logger := zaptest.NewLogger(t)
	calls := 0
	job := AccountsRefresher(logger, refresherFunc(func(context.Context) (indexer.RefreshResult, error) {
		calls++
		if calls == 2 {
			return indexer.RefreshResult{}, db.StorageError("list accounts", errors.New("conn reset"))
		}
		return indexer.RefreshResult{Height: 10, Settled: 3}, nil
	}))

	require.NoError(t, job(context.Background()))
	require.ErrorIs(t, job(context.Background()), scheduler.ErrFatal)
}

func TestPriceRefresher(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	m := metrics.New()
	btc := indexermodels.Pair{Base: "BTC", Quote: "USD"}
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var asked []indexermodels.Pair
	source := priceSourceFunc(func(_ context.Context, pairs []indexermodels.Pair) ([]indexermodels.Price, error) {
		asked = pairs
		return []indexermodels.Price{{Pair: btc, Bid: 100, Ask: 101, UpdatedAt: updated}}, nil
	})

	job := PriceRefresher(logger, source, store, []indexermodels.Pair{btc}, m)
	require.NoError(t, job(context.Background()))
	assert.Equal(t, []indexermodels.Pair{btc}, asked)

	got, err := store.GetPrice(context.Background(), btc)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Bid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceUpdates.WithLabelValues("BTC:USD")))

	store.Fail("UpsertPrice", errors.New("disk full"))
	require.ErrorIs(t, job(context.Background()), scheduler.ErrFatal)
}

func TestPriceRefresherWithoutPairs(t *testing.T) {
	job := PriceRefresher(zaptest.NewLogger(t), priceSourceFunc(func(context.Context, []indexermodels.Pair) ([]indexermodels.Price, error) {
		t.Fatal("no pairs configured, source must not be called")
		return nil, nil
	}), memstore.New(), nil, nil)
	require.NoError(t, job(context.Background()))
}

func TestPriceRefresherSourceFailure(t *testing.T) {
	job := PriceRefresher(zaptest.NewLogger(t), priceSourceFunc(func(context.Context, []indexermodels.Pair) ([]indexermodels.Price, error) {
		return nil, errors.New("http 429")
	}), memstore.New(), []indexermodels.Pair{{Base: "BTC", Quote: "USD"}}, nil)
	err := job(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, scheduler.ErrFatal)
}

// statusNode answers the status queries; any other call panics through the nil interface.
type statusNode struct {
	rpc.Client
	infoErr error
}

func (n *statusNode) NodeInfo(context.Context) (*rpc.NodeInfo, error) {
	if n.infoErr != nil {
		return nil, n.infoErr
	}
	id := "node-1"
	return &rpc.NodeInfo{NodeID: &id, IsBakerCommittee: true, PeerType: "Node"}, nil
}

func (n *statusNode) NodeUptime(context.Context) (uint64, error) { return 250, nil }

func (n *statusNode) PeerStats(context.Context) (*rpc.PeerStats, error) {
	return &rpc.PeerStats{AvgLatency: 125.75, PeerCount: 6}, nil
}

func newChecker(t *testing.T, node rpc.Client, store db.StatusStore, keep int) *StatusChecker {
	c := NewStatusChecker(zaptest.NewLogger(t), node, store, keep, nil)
	load := 0.5
	c.probe = func(*zap.Logger) adminmodels.ResourceStatus {
		return adminmodels.ResourceStatus{AvgCPULoad: &load, Goroutines: 3}
	}
	var tick int64
	c.now = func() time.Time {
		tick++
		return time.UnixMilli(1_700_000_000_000 + tick)
	}
	return c
}

func TestStatusChecker(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newChecker(t, &statusNode{}, store, 2)

	require.NoError(t, c.Run(ctx))
	latest, err := store.LatestStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest.Node)
	assert.Equal(t, "node-1", *latest.Node.NodeID)
	assert.Equal(t, uint64(250), latest.Node.UptimeMs)
	assert.Equal(t, 125.75, latest.Node.PeerAverageLatency)
	assert.Equal(t, uint64(6), latest.Node.PeerCount)
	assert.True(t, latest.Node.IsBakerCommittee)
	assert.Equal(t, 0.5, *latest.Resources.AvgCPULoad)

	require.NoError(t, c.Run(ctx))
	require.NoError(t, c.Run(ctx))
	removed, err := store.GarbageCollectStatuses(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, removed, "the checker already trimmed to the newest reports")

	latest, err = store.LatestStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_003), latest.TimestampMs)
}

func TestStatusCheckerNodeDown(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	c := newChecker(t, &statusNode{infoErr: fmt.Errorf("%w: refused", rpc.ErrTransient)}, store, 10)

	require.NoError(t, c.Run(ctx))
	latest, err := store.LatestStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest.Node)
	assert.Equal(t, 3, latest.Resources.Goroutines)
}

func TestStatusCheckerStorageFailure(t *testing.T) {
	store := memstore.New()
	store.Fail("ReportStatus", errors.New("disk full"))
	c := newChecker(t, &statusNode{}, store, 10)
	require.ErrorIs(t, c.Run(context.Background()), scheduler.ErrFatal)
}

func TestHostResources(t *testing.T) {
	res := HostResources(zaptest.NewLogger(t))
	assert.Positive(t, res.Goroutines)
	assert.Positive(t, res.HeapAlloc)
}
