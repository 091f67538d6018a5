package indexer

// Watermark is the highest block fully ingested.
type Watermark struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}
