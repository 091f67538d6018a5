package memstore

import (
	"sort"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

// Snapshot is a deterministic copy of the committed ingestion tables.
type Snapshot struct {
	Blocks    []indexermodels.Block
	Accounts  []indexermodels.Account
	Rewards   []indexermodels.AccountReward
	Watermark *indexermodels.Watermark
}

// Snapshot returns the committed blocks, accounts, rewards and watermark, sorted by key.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	st := s.cur.clone()
	s.mu.RUnlock()

	var snap Snapshot
	for _, b := range st.blocks {
		snap.Blocks = append(snap.Blocks, b)
	}
	sort.Slice(snap.Blocks, func(i, j int) bool { return snap.Blocks[i].Height < snap.Blocks[j].Height })

	for _, a := range st.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].ID < snap.Accounts[j].ID })

	for _, r := range st.rewards {
		snap.Rewards = append(snap.Rewards, r)
	}
	sort.Slice(snap.Rewards, func(i, j int) bool { return snap.Rewards[i].ID < snap.Rewards[j].ID })

	snap.Watermark = st.watermark
	return snap
}
