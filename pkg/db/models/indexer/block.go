package indexer

// Block is a finalized block as recorded by the node. Rows are immutable once stored.
type Block struct {
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	SlotTimeMs uint64 `json:"slot_time_ms"`
	// Baker is 0 when the node reports no baker for the block.
	Baker uint64 `json:"baker"`
}

// SameAs reports whether b and other describe the same chain position.
func (b Block) SameAs(other Block) bool {
	return b.Height == other.Height && b.Hash == other.Hash
}

// BlockFilter narrows block listings. Nil fields are ignored.
type BlockFilter struct {
	Baker   *uint64
	SinceMs *uint64
}
