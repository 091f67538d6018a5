package chain

import (
	"context"
	"fmt"
	"strings"

	storage "github.com/canopy-network/bakerx/pkg/db"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/jackc/pgx/v5"
)

// initBlocks creates the blocks table
func (db *DB) initBlocks(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS blocks (
			height BIGINT NOT NULL,
			hash TEXT NOT NULL,
			slot_time_ms BIGINT NOT NULL,
			baker BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT blocks_height_key UNIQUE (height),
			CONSTRAINT blocks_hash_key UNIQUE (hash)
		);

		CREATE INDEX IF NOT EXISTS idx_blocks_baker ON blocks(baker);
		CREATE INDEX IF NOT EXISTS idx_blocks_slot_time ON blocks(slot_time_ms);
	`

	return db.Exec(ctx, query)
}

// UpsertBlock inserts block, or checks that the stored row at its height/hash is identical.
func (db *DB) UpsertBlock(ctx context.Context, block indexermodels.Block) error {
	exec := db.GetExecutor(ctx)

	tag, err := exec.Exec(ctx, `
		INSERT INTO blocks (height, hash, slot_time_ms, baker)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, block.Height, block.Hash, block.SlotTimeMs, block.Baker)
	if err != nil {
		return db.StorageError("upsert block", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Something already holds this height or hash; it has to be the same block.
	rows, err := exec.Query(ctx, `
		SELECT height, hash, slot_time_ms, baker
		FROM blocks
		WHERE height = $1 OR hash = $2
	`, block.Height, block.Hash)
	if err != nil {
		return db.StorageError("check block", err)
	}
	stored, err := pgx.CollectRows(rows, scanBlock)
	if err != nil {
		return db.StorageError("check block", err)
	}

	for _, existing := range stored {
		if existing != block {
			return &storage.ConsistencyError{
				Entity:   "block",
				Key:      fmt.Sprintf("height=%d", block.Height),
				Stored:   fmt.Sprintf("%d/%s", existing.Height, existing.Hash),
				Incoming: fmt.Sprintf("%d/%s", block.Height, block.Hash),
			}
		}
	}
	return nil
}

// GetBlock retrieves a block by height
func (db *DB) GetBlock(ctx context.Context, height uint64) (indexermodels.Block, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, `
		SELECT height, hash, slot_time_ms, baker FROM blocks WHERE height = $1
	`, height)
	if err != nil {
		return indexermodels.Block{}, db.StorageError("get block", err)
	}
	block, err := pgx.CollectExactlyOneRow(rows, scanBlock)
	if err != nil {
		return indexermodels.Block{}, notFound("get block", err)
	}
	return block, nil
}

// ListBlocks pages through blocks by height, optionally filtered by baker and slot time.
func (db *DB) ListBlocks(ctx context.Context, filter indexermodels.BlockFilter, page indexermodels.Page) ([]indexermodels.Block, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Baker != nil {
		where = append(where, "baker = "+arg(*filter.Baker))
	}
	if filter.SinceMs != nil {
		where = append(where, "slot_time_ms >= "+arg(*filter.SinceMs))
	}
	order := "ASC"
	if page.Desc {
		order = "DESC"
		if page.Cursor > 0 {
			where = append(where, "height < "+arg(page.Cursor))
		}
	} else if page.Cursor > 0 {
		where = append(where, "height > "+arg(page.Cursor))
	}

	query := "SELECT height, hash, slot_time_ms, baker FROM blocks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY height %s LIMIT %s", order, arg(limitOf(page)))

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("list blocks", err)
	}
	blocks, err := pgx.CollectRows(rows, scanBlock)
	if err != nil {
		return nil, db.StorageError("list blocks", err)
	}
	return blocks, nil
}

func scanBlock(row pgx.CollectableRow) (indexermodels.Block, error) {
	var b indexermodels.Block
	err := row.Scan(&b.Height, &b.Hash, &b.SlotTimeMs, &b.Baker)
	return b, err
}

func limitOf(page indexermodels.Page) int {
	if page.Limit <= 0 {
		return 50
	}
	return page.Limit
}

