package rpc

import (
	"context"
)

// Client captures the node queries used by the ingestion pipeline, the reconciler and the
// status checker. All calls are read-only.
type Client interface {
	ConsensusStatus(ctx context.Context) (*ConsensusStatus, error)
	// BlocksAtHeight returns the finalized block hashes at height, normally exactly one.
	BlocksAtHeight(ctx context.Context, height uint64) ([]string, error)
	BlockInfo(ctx context.Context, hash string) (*BlockInfo, error)
	BlockSummary(ctx context.Context, hash string) (*BlockSummary, error)
	AccountInfo(ctx context.Context, blockHash, address string) (*AccountInfo, error)
	BirkParameters(ctx context.Context, blockHash string) (*BirkParameters, error)

	NodeInfo(ctx context.Context) (*NodeInfo, error)
	NodeUptime(ctx context.Context) (uint64, error)
	PeerStats(ctx context.Context) (*PeerStats, error)
}

var _ Client = (*HTTPClient)(nil)
