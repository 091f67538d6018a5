package chain

import (
	"context"
	"fmt"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/jackc/pgx/v5"
)

// initAccountRewards creates the account_rewards table.
// One reward per (account, block, kind).
func (db *DB) initAccountRewards(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS account_rewards (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL REFERENCES accounts(id),
			block_hash TEXT NOT NULL REFERENCES blocks(hash),
			amount TEXT NOT NULL,
			epoch_ms BIGINT NOT NULL,
			kind TEXT NOT NULL,
			CONSTRAINT account_rewards_account_block_kind_key UNIQUE (account_id, block_hash, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_account_rewards_block ON account_rewards(block_hash);
	`

	return db.Exec(ctx, query)
}

// UpsertReward inserts reward, doing nothing when the (account, block, kind) key already exists.
func (db *DB) UpsertReward(ctx context.Context, reward indexermodels.AccountReward) (bool, error) {
	tag, err := db.GetExecutor(ctx).Exec(ctx, `
		INSERT INTO account_rewards (account_id, block_hash, amount, epoch_ms, kind)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, block_hash, kind) DO NOTHING
	`, reward.AccountID, reward.BlockHash, reward.Amount.String(), reward.EpochMs, reward.Kind)
	if err != nil {
		return false, db.StorageError("upsert reward", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRewards pages through the rewards of an account by id.
func (db *DB) ListRewards(ctx context.Context, accountID int64, page indexermodels.Page) ([]indexermodels.AccountReward, error) {
	query := `
		SELECT id, account_id, block_hash, amount, epoch_ms, kind
		FROM account_rewards
		WHERE account_id = $1`
	args := []any{accountID}

	order := "ASC"
	if page.Desc {
		order = "DESC"
		if page.Cursor > 0 {
			query += ` AND id < $2`
			args = append(args, page.Cursor)
		}
	} else if page.Cursor > 0 {
		query += ` AND id > $2`
		args = append(args, page.Cursor)
	}
	args = append(args, limitOf(page))
	query += fmt.Sprintf(" ORDER BY id %s LIMIT $%d", order, len(args))

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("list rewards", err)
	}
	rewards, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexermodels.AccountReward, error) {
		var (
			r      indexermodels.AccountReward
			amount string
		)
		if err := row.Scan(&r.ID, &r.AccountID, &r.BlockHash, &amount, &r.EpochMs, &r.Kind); err != nil {
			return r, err
		}
		var err error
		r.Amount, err = indexermodels.ParseAmount(amount)
		return r, err
	})
	if err != nil {
		return nil, db.StorageError("list rewards", err)
	}
	return rewards, nil
}
