package chain

import (
	"context"
	"errors"

	storage "github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// initWatermark creates the single-row watermark table.
func (db *DB) initWatermark(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS watermark (
			id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			height BIGINT NOT NULL,
			hash TEXT NOT NULL
		)
	`

	return db.Exec(ctx, query)
}

// seed stores the bootstrap block and points the watermark at it, unless a watermark exists.
func (db *DB) seed(ctx context.Context, seed indexermodels.Block) error {
	return db.WithinTx(ctx, func(ctx context.Context) error {
		_, err := db.GetWatermark(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := db.UpsertBlock(ctx, seed); err != nil {
			return err
		}
		if _, err := db.GetExecutor(ctx).Exec(ctx, `
			INSERT INTO watermark (id, height, hash) VALUES (1, $1, $2)
			ON CONFLICT (id) DO NOTHING
		`, seed.Height, seed.Hash); err != nil {
			return db.StorageError("seed watermark", err)
		}

		db.Logger.Info("Seeded watermark",
			zap.Uint64("height", seed.Height),
			zap.String("hash", seed.Hash),
			zap.Uint64("baker", seed.Baker))
		return nil
	})
}

// GetWatermark returns the highest ingested block.
func (db *DB) GetWatermark(ctx context.Context) (indexermodels.Watermark, error) {
	var wm indexermodels.Watermark
	err := db.GetExecutor(ctx).QueryRow(ctx, `SELECT height, hash FROM watermark WHERE id = 1`).Scan(&wm.Height, &wm.Hash)
	if err != nil {
		return indexermodels.Watermark{}, notFound("get watermark", err)
	}
	return wm, nil
}

// SetWatermark moves the watermark to wm. Lower heights are ignored.
func (db *DB) SetWatermark(ctx context.Context, wm indexermodels.Watermark) error {
	_, err := db.GetExecutor(ctx).Exec(ctx, `
		INSERT INTO watermark (id, height, hash) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			height = EXCLUDED.height,
			hash = EXCLUDED.hash
		WHERE watermark.height <= EXCLUDED.height
	`, wm.Height, wm.Hash)
	return db.StorageError("set watermark", err)
}
