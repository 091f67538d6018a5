package indexer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/bakerx/pkg/db/memstore"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	seedHeight = uint64(2840311)
	seedHash   = "994d...f9a8"
)

// nodeMock is a testify mock of rpc.Client.
type nodeMock struct {
	mock.Mock
}

func (m *nodeMock) ConsensusStatus(ctx context.Context) (*rpc.ConsensusStatus, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).(*rpc.ConsensusStatus)
	return out, args.Error(1)
}

func (m *nodeMock) BlocksAtHeight(ctx context.Context, height uint64) ([]string, error) {
	args := m.Called(ctx, height)
	out, _ := args.Get(0).([]string)
	return out, args.Error(1)
}

func (m *nodeMock) BlockInfo(ctx context.Context, hash string) (*rpc.BlockInfo, error) {
	args := m.Called(ctx, hash)
	out, _ := args.Get(0).(*rpc.BlockInfo)
	return out, args.Error(1)
}

func (m *nodeMock) BlockSummary(ctx context.Context, hash string) (*rpc.BlockSummary, error) {
	args := m.Called(ctx, hash)
	out, _ := args.Get(0).(*rpc.BlockSummary)
	return out, args.Error(1)
}

func (m *nodeMock) AccountInfo(ctx context.Context, blockHash, address string) (*rpc.AccountInfo, error) {
	args := m.Called(ctx, blockHash, address)
	out, _ := args.Get(0).(*rpc.AccountInfo)
	return out, args.Error(1)
}

func (m *nodeMock) BirkParameters(ctx context.Context, blockHash string) (*rpc.BirkParameters, error) {
	args := m.Called(ctx, blockHash)
	out, _ := args.Get(0).(*rpc.BirkParameters)
	return out, args.Error(1)
}

func (m *nodeMock) NodeInfo(ctx context.Context) (*rpc.NodeInfo, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).(*rpc.NodeInfo)
	return out, args.Error(1)
}

func (m *nodeMock) NodeUptime(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *nodeMock) PeerStats(ctx context.Context) (*rpc.PeerStats, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).(*rpc.PeerStats)
	return out, args.Error(1)
}

var _ rpc.Client = (*nodeMock)(nil)

func (m *nodeMock) finalized(height uint64, hash string) *mock.Call {
	return m.On("ConsensusStatus", mock.Anything).Return(&rpc.ConsensusStatus{
		BestBlock:                hash,
		BestBlockHeight:          height,
		LastFinalizedBlock:       hash,
		LastFinalizedBlockHeight: height,
	}, nil)
}

// block registers a finalized block with its reward events.
func (m *nodeMock) block(height uint64, hash string, bakerID uint64, events ...rpc.RewardEvent) {
	m.On("BlocksAtHeight", mock.Anything, height).Return([]string{hash}, nil)
	m.On("BlockInfo", mock.Anything, hash).Return(&rpc.BlockInfo{
		BlockHash:     hash,
		BlockHeight:   height,
		BlockSlotTime: slotTime(height),
		BlockBaker:    &bakerID,
		Finalized:     true,
	}, nil)
	m.On("BlockSummary", mock.Anything, hash).Return(&rpc.BlockSummary{RewardEvents: events}, nil)
}

// account registers the balance and stake of address at every block.
func (m *nodeMock) account(address, amount, staked string) *mock.Call {
	return m.On("AccountInfo", mock.Anything, mock.Anything, address).Return(&rpc.AccountInfo{
		AccountAddress: address,
		AccountAmount:  decimal.RequireFromString(amount),
		AccountBaker:   &rpc.AccountBaker{StakedAmount: decimal.RequireFromString(staked), BakerID: 7},
	}, nil)
}

// committee registers the baking committee returned for every block.
func (m *nodeMock) committee(bakers ...rpc.BirkBaker) *mock.Call {
	return m.On("BirkParameters", mock.Anything, mock.Anything).Return(&rpc.BirkParameters{Bakers: bakers}, nil)
}

func baker(address, power string) rpc.BirkBaker {
	return rpc.BirkBaker{BakerAccount: address, BakerID: 7, BakerLotteryPower: decimal.RequireFromString(power)}
}

func slotTime(height uint64) time.Time {
	return time.UnixMilli(int64(1_600_000_000_000 + height*2_000)).UTC()
}

func reward(account, amount, kind string) rpc.RewardEvent {
	return rpc.RewardEvent{Account: account, Amount: amount, Kind: kind}
}

type harness struct {
	store      *memstore.Store
	node       *nodeMock
	pipeline   *Pipeline
	reconciler *Reconciler
}

func newHarness(t *testing.T, opts PipelineOptions) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memstore.New()
	require.NoError(t, store.Initialize(context.Background(), indexermodels.Block{Height: seedHeight, Hash: seedHash, Baker: 1}))

	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	node := &nodeMock{}
	reconciler := NewReconciler(logger, node, store, pool, opts.Metrics)
	return &harness{
		store:      store,
		node:       node,
		reconciler: reconciler,
		pipeline:   NewPipeline(logger, node, store, reconciler, pool, opts),
	}
}

func (h *harness) watermark(t *testing.T) uint64 {
	t.Helper()
	wm, err := h.store.GetWatermark(context.Background())
	require.NoError(t, err)
	return wm.Height
}

type publisherSpy struct {
	mu     sync.Mutex
	events []BlockIngested
}

func (p *publisherSpy) PublishBlock(_ context.Context, ev BlockIngested) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}
