package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/rpc"
	"go.uber.org/zap"
)

// BlockIngested is published after a height commits.
type BlockIngested struct {
	Height     uint64   `json:"height"`
	Hash       string   `json:"hash"`
	Baker      uint64   `json:"baker"`
	SlotTimeMs uint64   `json:"slot_time_ms"`
	Rewards    int      `json:"rewards"`
	Accounts   []string `json:"accounts"`
}

// Publisher receives committed heights. Publishing is best-effort and never fails a run.
type Publisher interface {
	PublishBlock(ctx context.Context, ev BlockIngested)
}

// StopReason tells why a run ended without error.
type StopReason string

const (
	StopCaughtUp     StopReason = "caught_up"
	StopNotAvailable StopReason = "not_available"
	StopLimit        StopReason = "limit"
)

// Result summarises one run.
type Result struct {
	StartWatermark uint64
	Watermark      uint64
	Finalized      uint64
	Heights        int
	Rewards        int

	// Pending counts accounts left pending by the heights of this run.
	Pending int
	Reason  StopReason
}

type PipelineOptions struct {
	// MaxHeightsPerRun caps the heights walked by one run. Zero means no cap.
	MaxHeightsPerRun uint64
	Metrics          *metrics.Metrics
	Publisher        Publisher
}

// Pipeline walks finalized heights above the watermark and commits each one, with its rewards,
// account updates and the watermark advance, in a single transaction.
type Pipeline struct {
	logger     *zap.Logger
	node       rpc.Client
	store      db.IngestStore
	reconciler *Reconciler
	pool       pond.Pool
	opts       PipelineOptions
}

func NewPipeline(logger *zap.Logger, node rpc.Client, store db.IngestStore, reconciler *Reconciler, pool pond.Pool, opts PipelineOptions) *Pipeline {
	return &Pipeline{
		logger:     logger.Named("pipeline"),
		node:       node,
		store:      store,
		reconciler: reconciler,
		pool:       pool,
		opts:       opts,
	}
}

// Run ingests heights until the node's last finalized height, the run cap, a height that is not
// available yet, or the first error. Heights committed before an error stay committed.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	wm, err := p.store.GetWatermark(ctx)
	if err != nil {
		return Result{}, p.fail(0, fmt.Errorf("read watermark: %w", err))
	}
	res := Result{StartWatermark: wm.Height, Watermark: wm.Height, Reason: StopCaughtUp}

	status, err := p.node.ConsensusStatus(ctx)
	if err != nil {
		return res, p.fail(wm.Height+1, fmt.Errorf("consensus status: %w", err))
	}
	res.Finalized = status.LastFinalizedBlockHeight
	p.opts.Metrics.SetFinalized(res.Finalized)
	p.opts.Metrics.SetWatermark(wm.Height)

	if wm.Height >= res.Finalized {
		p.logger.Debug("up to date", zap.Uint64("watermark", wm.Height), zap.Uint64("finalized", res.Finalized))
		return res, nil
	}

	cursor := NewHeightCursor(wm.Height, res.Finalized, p.opts.MaxHeightsPerRun)
	p.logger.Debug("ingesting heights",
		zap.Uint64("from", wm.Height+1),
		zap.Uint64("to", cursor.Last()),
		zap.Uint64("finalized", res.Finalized))

	for h, ok := cursor.Next(); ok; h, ok = cursor.Next() {
		if err := ctx.Err(); err != nil {
			return res, p.fail(h, err)
		}
		committed, pending, err := p.ingestHeight(ctx, h)
		if err != nil {
			return res, p.fail(h, err)
		}
		if committed == nil {
			res.Reason = StopNotAvailable
			p.logger.Info("block not available yet, stopping", zap.Uint64("height", h))
			return res, nil
		}
		res.Heights++
		res.Rewards += committed.Rewards
		res.Pending += pending
		res.Watermark = h
	}
	if res.Watermark < res.Finalized {
		res.Reason = StopLimit
	}

	p.logger.Info("ingestion run finished",
		zap.Uint64("from", res.StartWatermark),
		zap.Uint64("watermark", res.Watermark),
		zap.Uint64("finalized", res.Finalized),
		zap.Int("heights", res.Heights),
		zap.Int("rewards", res.Rewards))
	return res, nil
}

// fail logs err at a level matching its class and counts it.
func (p *Pipeline) fail(height uint64, err error) error {
	class := Classify(err)
	p.opts.Metrics.IngestError(class)
	log := p.logger.With(zap.Uint64("height", height), zap.String("class", class), zap.Error(err))
	switch class {
	case ClassConsistency, ClassStorage:
		log.Error("ingestion stopped")
	case ClassMalformed:
		log.Warn("ingestion stopped on unexpected node response")
	case ClassCancelled:
		log.Info("ingestion interrupted")
	default:
		log.Warn("ingestion stopped, retrying next tick")
	}
	return err
}

type fetched struct {
	info       *rpc.BlockInfo
	summary    *rpc.BlockSummary
	infoErr    error
	summaryErr error
}

// ingestHeight fetches and commits height h, returning the event and the number of accounts left
// pending. It returns a nil event without error when the node has no block at h yet.
func (p *Pipeline) ingestHeight(ctx context.Context, h uint64) (*BlockIngested, int, error) {
	start := time.Now()

	hashes, err := p.node.BlocksAtHeight(ctx, h)
	if err != nil {
		return nil, 0, fmt.Errorf("blocks at height %d: %w", h, err)
	}
	switch len(hashes) {
	case 0:
		return nil, 0, nil
	case 1:
	default:
		return nil, 0, fmt.Errorf("%w %d: %v", ErrAmbiguousHeight, h, hashes)
	}
	hash := hashes[0]

	f := p.fetch(ctx, hash)
	if f.infoErr != nil {
		return nil, 0, fmt.Errorf("block info %s: %w", hash, f.infoErr)
	}
	if f.summaryErr != nil {
		return nil, 0, fmt.Errorf("block summary %s: %w", hash, f.summaryErr)
	}
	if f.info.BlockHeight != h || f.info.BlockHash != hash {
		return nil, 0, fmt.Errorf("%w: block info for %d/%s describes %d/%s",
			rpc.ErrMalformedResponse, h, hash, f.info.BlockHeight, f.info.BlockHash)
	}
	block := f.info.ToBlockModel()

	rewards := make([]indexermodels.AccountReward, 0, len(f.summary.RewardEvents))
	var addresses []string
	seen := map[string]struct{}{}
	for _, ev := range f.summary.RewardEvents {
		amount, err := indexermodels.ParseAmount(ev.Amount)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: reward amount %q in %s", rpc.ErrMalformedResponse, ev.Amount, hash)
		}
		epoch := ev.EpochMs
		if epoch == 0 {
			epoch = block.SlotTimeMs
		}
		rewards = append(rewards, indexermodels.AccountReward{BlockHash: hash, Amount: amount, EpochMs: epoch, Kind: ev.Kind})
		if _, ok := seen[ev.Account]; !ok {
			seen[ev.Account] = struct{}{}
			addresses = append(addresses, ev.Account)
		}
	}

	updates, err := p.reconciler.Prepare(ctx, hash, h, addresses)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile accounts at %d: %w", h, err)
	}

	inserted, pending := 0, 0
	err = p.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := p.store.UpsertBlock(ctx, block); err != nil {
			return err
		}
		ids := make(map[string]int64, len(addresses))
		for _, address := range addresses {
			acc, err := p.store.EnsureAccount(ctx, address)
			if err != nil {
				return err
			}
			ids[address] = acc.ID
		}
		for i, ev := range f.summary.RewardEvents {
			reward := rewards[i]
			reward.AccountID = ids[ev.Account]
			ok, err := p.store.UpsertReward(ctx, reward)
			if err != nil {
				return err
			}
			if ok {
				inserted++
			} else {
				p.logger.Debug("reward already stored",
					zap.Uint64("height", h),
					zap.String("account", ev.Account),
					zap.String("kind", ev.Kind))
			}
		}
		var applyErr error
		if _, pending, applyErr = p.reconciler.Apply(ctx, updates); applyErr != nil {
			return applyErr
		}
		return p.store.SetWatermark(ctx, indexermodels.Watermark{Height: h, Hash: hash})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("commit height %d: %w", h, err)
	}

	ev := &BlockIngested{
		Height:     h,
		Hash:       hash,
		Baker:      block.Baker,
		SlotTimeMs: block.SlotTimeMs,
		Rewards:    inserted,
		Accounts:   addresses,
	}
	p.opts.Metrics.ObserveHeight(h, inserted, time.Since(start))
	if p.opts.Publisher != nil {
		p.opts.Publisher.PublishBlock(ctx, *ev)
	}
	p.logger.Debug("height committed",
		zap.Uint64("height", h),
		zap.String("hash", hash),
		zap.Uint64("baker", block.Baker),
		zap.Int("rewards", inserted),
		zap.Duration("took", time.Since(start)))
	return ev, pending, nil
}

// fetch loads block info and summary concurrently.
func (p *Pipeline) fetch(ctx context.Context, hash string) fetched {
	var f fetched
	group := p.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	group.Submit(func() {
		f.info, f.infoErr = p.node.BlockInfo(groupCtx, hash)
	})
	group.Submit(func() {
		f.summary, f.summaryErr = p.node.BlockSummary(groupCtx, hash)
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		p.logger.Warn("parallel block fetch encountered error", zap.String("hash", hash), zap.Error(err))
	}
	if f.info == nil && f.infoErr == nil {
		f.infoErr = aborted(ctx)
	}
	if f.summary == nil && f.summaryErr == nil {
		f.summaryErr = aborted(ctx)
	}
	return f
}

func aborted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: fetch did not run", rpc.ErrTransient)
}
