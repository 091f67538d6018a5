package indexer

import (
	"github.com/shopspring/decimal"
)

// Reward kinds reported by the node. Unknown kinds are stored verbatim.
const (
	RewardKindBaking         = "baking"
	RewardKindTransactionFee = "transaction_fee"
)

// AccountReward is a single reward credited to an account by a block.
// (AccountID, BlockHash, Kind) is unique.
type AccountReward struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	BlockHash string          `json:"block_hash"`
	Amount    decimal.Decimal `json:"amount"`
	EpochMs   uint64          `json:"epoch_ms"`
	Kind      string          `json:"kind"`
}

// RewardKey identifies a reward row.
type RewardKey struct {
	AccountID int64
	BlockHash string
	Kind      string
}

func (r AccountReward) Key() RewardKey {
	return RewardKey{AccountID: r.AccountID, BlockHash: r.BlockHash, Kind: r.Kind}
}
