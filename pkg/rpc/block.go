package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

// ConsensusStatus is the response of /v1/consensusStatus.
type ConsensusStatus struct {
	BestBlock                string `json:"bestBlock"`
	BestBlockHeight          uint64 `json:"bestBlockHeight"`
	LastFinalizedBlock       string `json:"lastFinalizedBlock"`
	LastFinalizedBlockHeight uint64 `json:"lastFinalizedBlockHeight"`
}

// ConsensusStatus returns the node's view of the chain head and last finalized block.
func (c *HTTPClient) ConsensusStatus(ctx context.Context) (*ConsensusStatus, error) {
	var out ConsensusStatus
	if err := c.doJSON(ctx, http.MethodPost, consensusStatusPath, struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.LastFinalizedBlock == "" {
		return nil, malformed(consensusStatusPath, "missing lastFinalizedBlock")
	}
	return &out, nil
}

// BlocksAtHeight returns the block hashes the node knows at height. An unknown height yields
// an empty list rather than an error.
func (c *HTTPClient) BlocksAtHeight(ctx context.Context, height uint64) ([]string, error) {
	var out []string
	err := c.doJSON(ctx, http.MethodPost, blocksAtHeightPath, map[string]uint64{"height": height}, &out)
	if errors.Is(err, ErrNotAvailable) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	for _, h := range out {
		if strings.TrimSpace(h) == "" {
			return nil, malformed(blocksAtHeightPath, "empty hash at height %d", height)
		}
	}
	return out, nil
}

// BlockInfo is the response of /v1/blockInfo.
type BlockInfo struct {
	BlockHash     string    `json:"blockHash"`
	BlockHeight   uint64    `json:"blockHeight"`
	BlockSlotTime time.Time `json:"blockSlotTime"`
	// BlockBaker is absent for blocks without a baker (genesis).
	BlockBaker *uint64 `json:"blockBaker"`
	Finalized  bool    `json:"finalized"`
}

// ToBlockModel converts the node answer into the stored block row.
func (b *BlockInfo) ToBlockModel() indexer.Block {
	var baker uint64
	if b.BlockBaker != nil {
		baker = *b.BlockBaker
	}
	var slot uint64
	if ms := b.BlockSlotTime.UnixMilli(); ms > 0 {
		slot = uint64(ms)
	}
	return indexer.Block{
		Height:     b.BlockHeight,
		Hash:       b.BlockHash,
		SlotTimeMs: slot,
		Baker:      baker,
	}
}

// BlockInfo returns height, slot time and baker of the block with the given hash.
func (c *HTTPClient) BlockInfo(ctx context.Context, hash string) (*BlockInfo, error) {
	var out BlockInfo
	if err := c.doJSON(ctx, http.MethodPost, blockInfoPath, map[string]string{"blockHash": hash}, &out); err != nil {
		return nil, err
	}
	if out.BlockHash == "" {
		return nil, malformed(blockInfoPath, "missing blockHash for %s", hash)
	}
	if out.BlockSlotTime.IsZero() {
		return nil, malformed(blockInfoPath, "missing blockSlotTime for %s", hash)
	}
	return &out, nil
}

// RewardEvent is one reward credited by a block.
type RewardEvent struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	// EpochMs is optional; the block slot time is used when it is zero.
	EpochMs uint64 `json:"epochMs"`
	Kind    string `json:"kind"`
}

// BlockSummary is the response of /v1/blockSummary.
type BlockSummary struct {
	RewardEvents []RewardEvent `json:"rewardEvents"`
}

// BlockSummary returns the reward events of the block with the given hash.
func (c *HTTPClient) BlockSummary(ctx context.Context, hash string) (*BlockSummary, error) {
	var out BlockSummary
	if err := c.doJSON(ctx, http.MethodPost, blockSummaryPath, map[string]string{"blockHash": hash}, &out); err != nil {
		return nil, err
	}
	for i, ev := range out.RewardEvents {
		if ev.Account == "" || ev.Kind == "" || ev.Amount == "" {
			return nil, malformed(blockSummaryPath, "reward event %d of %s is incomplete", i, hash)
		}
		if _, err := indexer.ParseAmount(ev.Amount); err != nil {
			return nil, malformed(blockSummaryPath, "reward event %d of %s: amount %q", i, hash, ev.Amount)
		}
	}
	return &out, nil
}
