// Package jobs holds the scheduled units of work run by the monitor daemon.
package jobs

import (
	"context"
	"fmt"

	"github.com/canopy-network/bakerx/pkg/indexer"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"go.uber.org/zap"
)

// Ingester is satisfied by *indexer.Pipeline.
type Ingester interface {
	Run(ctx context.Context) (indexer.Result, error)
}

// PendingSettler is satisfied by *indexer.Reconciler.
type PendingSettler interface {
	SettlePending(ctx context.Context) (indexer.RefreshResult, error)
}

// AccountRefresher is satisfied by *indexer.Reconciler.
type AccountRefresher interface {
	RefreshAll(ctx context.Context) (indexer.RefreshResult, error)
}

// escalate marks storage failures fatal so the scheduler stops the process. Everything else
// is retried on the next tick.
func escalate(err error) error {
	if indexer.IsFatal(err) {
		return scheduler.Fatal(err)
	}
	return err
}

// BlockFetcher advances the watermark through every finalized height the node has. When a run
// leaves accounts pending, settler gets one pass at the last finalized block right away. A nil
// settler leaves them to the accounts refresher.
func BlockFetcher(logger *zap.Logger, ingester Ingester, settler PendingSettler) scheduler.Job {
	logger = logger.Named("block_fetcher")
	return func(ctx context.Context) error {
		res, err := ingester.Run(ctx)
		if err != nil {
			return escalate(fmt.Errorf("ingest from %d: %w", res.StartWatermark, err))
		}
		if res.Heights > 0 || res.Reason != indexer.StopCaughtUp {
			logger.Debug("ingestion tick",
				zap.Uint64("watermark", res.Watermark),
				zap.Uint64("finalized", res.Finalized),
				zap.Int("heights", res.Heights),
				zap.Int("pending", res.Pending),
				zap.String("reason", string(res.Reason)))
		}
		if res.Pending == 0 || settler == nil {
			return nil
		}
		settled, err := settler.SettlePending(ctx)
		if err != nil {
			if indexer.IsFatal(err) {
				return escalate(fmt.Errorf("settle pending accounts: %w", err))
			}
			logger.Warn("pending accounts not settled, left to the refresher", zap.Error(err))
			return nil
		}
		logger.Debug("pending accounts settled",
			zap.Uint64("height", settled.Height),
			zap.Int("settled", settled.Settled),
			zap.Int("pending", settled.Pending))
		return nil
	}
}

// AccountsRefresher re-reads every tracked account and settles pending ones.
func AccountsRefresher(logger *zap.Logger, refresher AccountRefresher) scheduler.Job {
	logger = logger.Named("accounts_refresher")
	return func(ctx context.Context) error {
		res, err := refresher.RefreshAll(ctx)
		if err != nil {
			return escalate(fmt.Errorf("refresh accounts: %w", err))
		}
		logger.Debug("accounts refreshed",
			zap.Uint64("height", res.Height),
			zap.Int("settled", res.Settled),
			zap.Int("pending", res.Pending))
		return nil
	}
}
