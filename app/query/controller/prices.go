package controller

import (
	"net/http"

	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/gorilla/mux"
)

// HandlePrice returns the latest quote of a BASE:QUOTE pair.
func (c *Controller) HandlePrice(w http.ResponseWriter, r *http.Request) {
	pair, err := indexermodels.ParsePair(mux.Vars(r)["pair"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := c.App.Store.GetPrice(r.Context(), pair)
	if err != nil {
		c.writeStoreError(w, r, err, "price not found")
		return
	}
	writeJSON(w, http.StatusOK, price)
}
