package controller

import (
	"net/http"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/gorilla/mux"
)

// HandleAccountByAddress returns the reconciled account. Returns 404 if the address is unknown.
func (c *Controller) HandleAccountByAddress(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	account, err := c.App.Store.GetAccount(r.Context(), address)
	if err != nil {
		c.writeStoreError(w, r, err, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// HandleAccountRewards returns paginated rewards of an account.
// Query parameters:
//   - cursor: reward id to start from (exclusive)
//   - limit: max number of results (default/max defined in parsePageSpec)
//   - sort: "asc" or "desc" (default "desc")
func (c *Controller) HandleAccountRewards(w http.ResponseWriter, r *http.Request) {
	page, err := parsePageSpec(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	account, err := c.App.Store.GetAccount(ctx, mux.Vars(r)["address"])
	if err != nil {
		c.writeStoreError(w, r, err, "account not found")
		return
	}

	rows, err := c.App.Store.ListRewards(ctx, account.ID, page.storePage())
	if err != nil {
		c.writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, paginate(rows, page, func(rw indexermodels.AccountReward) uint64 {
		return uint64(rw.ID)
	}))
}
