package indexer

// Page is a keyset page request. Cursor is exclusive; zero means "from the start".
type Page struct {
	Limit  int
	Cursor uint64
	Desc   bool
}
