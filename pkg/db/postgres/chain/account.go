package chain

import (
	"context"
	"fmt"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/db/postgres"
	"github.com/jackc/pgx/v5"
)

// initAccounts creates the accounts table. Amounts are exact decimal text.
func (db *DB) initAccounts(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS accounts (
			id BIGSERIAL PRIMARY KEY,
			address TEXT NOT NULL,
			available_amount TEXT NOT NULL DEFAULT '0',
			staked_amount TEXT NOT NULL DEFAULT '0',
			lottery_power TEXT NOT NULL DEFAULT '0',
			state TEXT NOT NULL DEFAULT 'pending' CHECK (state IN ('settled', 'pending')),
			updated_height BIGINT NOT NULL DEFAULT 0,
			CONSTRAINT accounts_address_key UNIQUE (address)
		);

		CREATE INDEX IF NOT EXISTS idx_accounts_state ON accounts(state);
	`

	return db.Exec(ctx, query)
}

const accountColumns = `id, address, available_amount, staked_amount, lottery_power, state, updated_height`

// EnsureAccount creates address as a pending account with zero amounts if it is unknown.
func (db *DB) EnsureAccount(ctx context.Context, address string) (indexermodels.Account, error) {
	exec := db.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, `
		INSERT INTO accounts (address) VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`, address); err != nil {
		return indexermodels.Account{}, db.StorageError("ensure account", err)
	}
	return db.GetAccount(ctx, address)
}

// UpsertAccount writes every derived field of the account at once. A row already updated at
// a higher height is left untouched and returned as stored.
func (db *DB) UpsertAccount(ctx context.Context, account indexermodels.Account) (indexermodels.Account, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx, `
		INSERT INTO accounts (address, available_amount, staked_amount, lottery_power, state, updated_height)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			available_amount = EXCLUDED.available_amount,
			staked_amount = EXCLUDED.staked_amount,
			lottery_power = EXCLUDED.lottery_power,
			state = EXCLUDED.state,
			updated_height = EXCLUDED.updated_height
		WHERE accounts.updated_height <= EXCLUDED.updated_height
		RETURNING `+accountColumns,
		account.Address,
		account.AvailableAmount.String(),
		account.StakedAmount.String(),
		account.LotteryPower.String(),
		string(account.State),
		account.UpdatedHeight,
	)
	if err != nil {
		return indexermodels.Account{}, db.StorageError("upsert account", err)
	}

	stored, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if postgres.IsNoRows(err) {
		// Stale write, the stored row wins.
		return db.GetAccount(ctx, account.Address)
	}
	if err != nil {
		return indexermodels.Account{}, db.StorageError("upsert account", err)
	}
	return stored, nil
}

// GetAccount returns the account stored for address.
func (db *DB) GetAccount(ctx context.Context, address string) (indexermodels.Account, error) {
	rows, err := db.GetExecutor(ctx).Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE address = $1`, address)
	if err != nil {
		return indexermodels.Account{}, db.StorageError("get account", err)
	}
	account, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return indexermodels.Account{}, notFound("get account "+address, err)
	}
	return account, nil
}

// ListAccounts returns every account, or only those in state when it is non-nil.
func (db *DB) ListAccounts(ctx context.Context, state *indexermodels.AccountState) ([]indexermodels.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	var args []any
	if state != nil {
		query += ` WHERE state = $1`
		args = append(args, string(*state))
	}
	query += ` ORDER BY id`

	rows, err := db.GetExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("list accounts", err)
	}
	accounts, err := pgx.CollectRows(rows, scanAccount)
	if err != nil {
		return nil, db.StorageError("list accounts", err)
	}
	return accounts, nil
}

func scanAccount(row pgx.CollectableRow) (indexermodels.Account, error) {
	var (
		a                        indexermodels.Account
		available, staked, power string
		state                    string
	)
	if err := row.Scan(&a.ID, &a.Address, &available, &staked, &power, &state, &a.UpdatedHeight); err != nil {
		return a, err
	}

	var err error
	if a.AvailableAmount, err = indexermodels.ParseAmount(available); err != nil {
		return a, fmt.Errorf("account %s available_amount: %w", a.Address, err)
	}
	if a.StakedAmount, err = indexermodels.ParseAmount(staked); err != nil {
		return a, fmt.Errorf("account %s staked_amount: %w", a.Address, err)
	}
	if a.LotteryPower, err = indexermodels.ParseAmount(power); err != nil {
		return a, fmt.Errorf("account %s lottery_power: %w", a.Address, err)
	}
	a.State = indexermodels.AccountState(state)
	return a, nil
}
