package indexer

import (
	"github.com/shopspring/decimal"
)

// AccountState tracks whether the derived fields of an account are final.
type AccountState string

const (
	// AccountSettled amounts and lottery power reflect every ingested block up to UpdatedHeight.
	AccountSettled AccountState = "settled"
	// AccountPending a block changed the account but lottery power was not recomputed yet.
	AccountPending AccountState = "pending"
)

func (s AccountState) Valid() bool {
	return s == AccountSettled || s == AccountPending
}

// Account is the reconciled view of an address. Amounts are exact decimals.
type Account struct {
	ID              int64           `json:"id"`
	Address         string          `json:"address"`
	AvailableAmount decimal.Decimal `json:"available_amount"`
	StakedAmount    decimal.Decimal `json:"staked_amount"`
	LotteryPower    decimal.Decimal `json:"lottery_power"`
	State           AccountState    `json:"state"`
	// UpdatedHeight is the block height the amounts were read at.
	UpdatedHeight uint64 `json:"updated_height"`
}

// Equal compares every persisted field, using decimal equality for amounts.
func (a Account) Equal(o Account) bool {
	return a.ID == o.ID &&
		a.Address == o.Address &&
		a.AvailableAmount.Equal(o.AvailableAmount) &&
		a.StakedAmount.Equal(o.StakedAmount) &&
		a.LotteryPower.Equal(o.LotteryPower) &&
		a.State == o.State &&
		a.UpdatedHeight == o.UpdatedHeight
}

// ParseAmount parses a decimal string, treating blank input as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
