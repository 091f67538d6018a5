package jobs

import (
	"context"
	"fmt"

	"github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"go.uber.org/zap"
)

// PriceSource is satisfied by *bitfinex.Client.
type PriceSource interface {
	Prices(ctx context.Context, pairs []indexermodels.Pair) ([]indexermodels.Price, error)
}

// PriceRefresher stores the latest quote of every configured pair.
func PriceRefresher(logger *zap.Logger, source PriceSource, store db.PriceStore, pairs []indexermodels.Pair, m *metrics.Metrics) scheduler.Job {
	logger = logger.Named("price_refresher")
	return func(ctx context.Context) error {
		if len(pairs) == 0 {
			return nil
		}
		prices, err := source.Prices(ctx, pairs)
		if err != nil {
			return fmt.Errorf("fetch prices: %w", err)
		}
		for _, p := range prices {
			if err := store.UpsertPrice(ctx, p); err != nil {
				return escalate(fmt.Errorf("store price %s: %w", p.Pair, err))
			}
			m.PriceUpdated(p.Pair.String())
		}
		logger.Debug("prices refreshed", zap.Int("pairs", len(prices)))
		return nil
	}
}
