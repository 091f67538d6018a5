package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"github.com/canopy-network/bakerx/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountUpdate is the state an account should have after the block at Height.
type AccountUpdate struct {
	Address      string
	Height       uint64
	Available    decimal.Decimal
	Staked       decimal.Decimal
	LotteryPower decimal.Decimal
	// Settled is false when a node query failed; amounts are then left as stored and the
	// account is marked pending.
	Settled bool
	Err     error
}

// Reconciler turns node account data into account rows. Node queries run in Prepare, outside
// any transaction; Apply only writes.
type Reconciler struct {
	logger  *zap.Logger
	node    rpc.Client
	store   db.IngestStore
	pool    pond.Pool
	metrics *metrics.Metrics
}

func NewReconciler(logger *zap.Logger, node rpc.Client, store db.IngestStore, pool pond.Pool, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		logger:  logger.Named("reconciler"),
		node:    node,
		store:   store,
		pool:    pool,
		metrics: m,
	}
}

// Prepare reads balance, stake and lottery power of every address as of blockHash. Query
// failures produce pending updates instead of errors; only a cancelled ctx fails the call.
func (r *Reconciler) Prepare(ctx context.Context, blockHash string, height uint64, addresses []string) ([]AccountUpdate, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	birk, birkErr := r.node.BirkParameters(ctx, blockHash)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	updates := make([]AccountUpdate, len(addresses))
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, address := range addresses {
		group.Submit(func() {
			updates[i] = r.prepareOne(groupCtx, blockHash, height, address, birk, birkErr)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		r.logger.Warn("account fan-out encountered error", zap.Uint64("height", height), zap.Error(err))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return updates, nil
}

func (r *Reconciler) prepareOne(ctx context.Context, blockHash string, height uint64, address string, birk *rpc.BirkParameters, birkErr error) AccountUpdate {
	u := AccountUpdate{Address: address, Height: height}
	if birkErr != nil {
		u.Err = fmt.Errorf("birk parameters at %s: %w", blockHash, birkErr)
		return u
	}
	info, err := r.node.AccountInfo(ctx, blockHash, address)
	if err != nil {
		u.Err = fmt.Errorf("account %s at %s: %w", address, blockHash, err)
		return u
	}
	u.Available = info.Available()
	u.Staked = info.Staked()
	// Accounts outside the baking committee have no lottery power.
	u.LotteryPower, _ = birk.LotteryPower(address)
	u.Settled = true
	return u
}

// Apply writes updates derived from a block through the store in ctx, which the pipeline binds
// to the height transaction. Amounts, lottery power and state of one account go out in one
// statement.
func (r *Reconciler) Apply(ctx context.Context, updates []AccountUpdate) (int, int, error) {
	return r.apply(ctx, updates, true)
}

// apply writes updates. A failed read only marks an account pending when fromBlock is set; a
// failed refresh leaves the stored row alone so a later block can still settle it.
func (r *Reconciler) apply(ctx context.Context, updates []AccountUpdate, fromBlock bool) (int, int, error) {
	var settled, pending int
	for _, u := range updates {
		acc, err := r.store.EnsureAccount(ctx, u.Address)
		if err != nil {
			return settled, pending, err
		}
		if !u.Settled && !fromBlock {
			if acc.State == indexermodels.AccountPending {
				pending++
			}
			r.logger.Debug("account refresh failed, row unchanged",
				zap.String("address", u.Address),
				zap.Uint64("height", u.Height),
				zap.String("state", string(acc.State)),
				zap.Error(u.Err))
			continue
		}
		if !u.Settled && acc.State == indexermodels.AccountSettled && acc.UpdatedHeight >= u.Height {
			continue
		}
		next := acc
		next.UpdatedHeight = u.Height
		if u.Settled {
			next.AvailableAmount = u.Available
			next.StakedAmount = u.Staked
			next.LotteryPower = u.LotteryPower
			next.State = indexermodels.AccountSettled
		} else {
			next.State = indexermodels.AccountPending
		}

		stored, err := r.store.UpsertAccount(ctx, next)
		if err != nil {
			return settled, pending, err
		}
		switch {
		case stored.UpdatedHeight > u.Height:
			r.logger.Debug("account already reconciled at a later height",
				zap.String("address", u.Address),
				zap.Uint64("height", u.Height),
				zap.Uint64("storedHeight", stored.UpdatedHeight))
		case u.Settled:
			settled++
		default:
			pending++
			r.logger.Warn("account left pending",
				zap.String("address", u.Address),
				zap.Uint64("height", u.Height),
				zap.Error(u.Err))
		}
	}
	r.metrics.ObserveAccounts(settled, pending)
	return settled, pending, nil
}

// refreshBatch caps the accounts read and written per refresh transaction.
const refreshBatch = 200

// RefreshResult summarises a refresh pass.
type RefreshResult struct {
	Height  uint64
	Settled int
	Pending int
}

// SettlePending re-reads every pending account at the last finalized block.
func (r *Reconciler) SettlePending(ctx context.Context) (RefreshResult, error) {
	only := indexermodels.AccountPending
	return r.refresh(ctx, &only)
}

// RefreshAll re-reads every known account at the last finalized block, settling pending ones
// on the way.
func (r *Reconciler) RefreshAll(ctx context.Context) (RefreshResult, error) {
	return r.refresh(ctx, nil)
}

func (r *Reconciler) refresh(ctx context.Context, only *indexermodels.AccountState) (RefreshResult, error) {
	accounts, err := r.store.ListAccounts(ctx, only)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		r.updatePendingGauge(ctx)
		return RefreshResult{}, nil
	}

	status, err := r.node.ConsensusStatus(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("consensus status: %w", err)
	}
	res := RefreshResult{Height: status.LastFinalizedBlockHeight}

	addresses := make([]string, 0, len(accounts))
	for _, a := range accounts {
		addresses = append(addresses, a.Address)
	}
	// Each batch commits in its own transaction.
	for _, batch := range utils.Chunk(addresses, refreshBatch) {
		updates, err := r.Prepare(ctx, status.LastFinalizedBlock, status.LastFinalizedBlockHeight, batch)
		if err != nil {
			return res, err
		}
		err = r.store.WithinTx(ctx, func(ctx context.Context) error {
			settled, pending, applyErr := r.apply(ctx, updates, false)
			res.Settled += settled
			res.Pending += pending
			return applyErr
		})
		if err != nil {
			return res, fmt.Errorf("apply account refresh: %w", err)
		}
	}
	r.updatePendingGauge(ctx)
	return res, nil
}

// Track makes sure every address exists so the refresher follows it before any reward names it.
func (r *Reconciler) Track(ctx context.Context, addresses []string) error {
	for _, address := range addresses {
		if _, err := r.store.EnsureAccount(ctx, address); err != nil {
			return fmt.Errorf("track account %s: %w", address, err)
		}
	}
	return nil
}

func (r *Reconciler) updatePendingGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	only := indexermodels.AccountPending
	pending, err := r.store.ListAccounts(ctx, &only)
	if err != nil {
		return
	}
	r.metrics.SetPending(len(pending))
}
