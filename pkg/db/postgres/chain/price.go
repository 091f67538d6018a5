package chain

import (
	"context"
	"time"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

// initPrices creates the prices table (latest quote per pair).
func (db *DB) initPrices(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS prices (
			base TEXT NOT NULL,
			quote TEXT NOT NULL,
			bid DOUBLE PRECISION NOT NULL,
			ask DOUBLE PRECISION NOT NULL,
			daily_change_relative DOUBLE PRECISION NOT NULL DEFAULT 0,
			high DOUBLE PRECISION NOT NULL DEFAULT 0,
			low DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (base, quote)
		)
	`

	return db.Exec(ctx, query)
}

// UpsertPrice replaces the stored quote for the pair.
func (db *DB) UpsertPrice(ctx context.Context, price indexermodels.Price) error {
	updatedAt := price.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := db.GetExecutor(ctx).Exec(ctx, `
		INSERT INTO prices (base, quote, bid, ask, daily_change_relative, high, low, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (base, quote) DO UPDATE SET
			bid = EXCLUDED.bid,
			ask = EXCLUDED.ask,
			daily_change_relative = EXCLUDED.daily_change_relative,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			updated_at = EXCLUDED.updated_at
	`, price.Pair.Base, price.Pair.Quote, price.Bid, price.Ask, price.DailyChangeRelative, price.High, price.Low, updatedAt)
	return db.StorageError("upsert price", err)
}

// GetPrice returns the latest quote for pair.
func (db *DB) GetPrice(ctx context.Context, pair indexermodels.Pair) (indexermodels.Price, error) {
	p := indexermodels.Price{Pair: pair}
	err := db.GetExecutor(ctx).QueryRow(ctx, `
		SELECT bid, ask, daily_change_relative, high, low, updated_at
		FROM prices
		WHERE base = $1 AND quote = $2
	`, pair.Base, pair.Quote).Scan(&p.Bid, &p.Ask, &p.DailyChangeRelative, &p.High, &p.Low, &p.UpdatedAt)
	if err != nil {
		return indexermodels.Price{}, notFound("get price "+pair.String(), err)
	}
	return p, nil
}
