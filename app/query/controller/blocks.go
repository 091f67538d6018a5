package controller

import (
	"net/http"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
)

// HandleBlocks returns paginated blocks ordered by height.
// Query parameters:
//   - baker: only blocks baked by this baker id
//   - since_ms: only blocks with a slot time at or after this epoch millisecond
//   - cursor: height to start from (exclusive)
//   - limit, sort: as in parsePageSpec
func (c *Controller) HandleBlocks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageSpec(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var filter indexermodels.BlockFilter
	if filter.Baker, err = parseUintParam(r, "baker"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.SinceMs, err = parseUintParam(r, "since_ms"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := c.App.Store.ListBlocks(r.Context(), filter, page.storePage())
	if err != nil {
		c.writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, paginate(rows, page, func(b indexermodels.Block) uint64 {
		return b.Height
	}))
}
