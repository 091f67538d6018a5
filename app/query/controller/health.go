package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/canopy-network/bakerx/pkg/db"
	adminmodels "github.com/canopy-network/bakerx/pkg/db/models/admin"
	indexermodels "github.com/canopy-network/bakerx/pkg/db/models/indexer"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"go.uber.org/zap"
)

func isNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}

// HandleHealth reports that the process serves requests.
func (c *Controller) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports whether the store answers.
func (c *Controller) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := c.App.Store.Ping(r.Context()); err != nil {
		c.App.Logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "errored", "error": "database connection error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Watermark indexermodels.Watermark `json:"watermark"`
	Status    *adminmodels.Status     `json:"status"`
	Jobs      []scheduler.JobStatus   `json:"jobs"`
	Clients   int                     `json:"live_clients"`
	Time      time.Time               `json:"time"`
}

// HandleStatus returns the watermark, the latest status report and the job table.
func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wm, err := c.App.Store.GetWatermark(ctx)
	if err != nil {
		c.writeStoreError(w, r, err, "watermark not initialized")
		return
	}

	resp := statusResponse{Watermark: wm, Jobs: []scheduler.JobStatus{}, Time: time.Now().UTC()}
	latest, err := c.App.Store.LatestStatus(ctx)
	switch {
	case err == nil:
		resp.Status = &latest
	case !isNotFound(err):
		c.writeStoreError(w, r, err, "")
		return
	}
	if c.App.Jobs != nil {
		resp.Jobs = c.App.Jobs.Statuses()
	}
	if c.App.Hub != nil {
		resp.Clients = c.App.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}
