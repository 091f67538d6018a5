package controller

import (
	"encoding/json"
	"net/http"

	"github.com/canopy-network/bakerx/app/query/types"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Controller struct {
	App *types.App
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
	}
}

// NewRouter returns a new router with all the routes of the read API.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.HandleFunc("/", c.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/healthz", c.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", c.HandleReady).Methods(http.MethodGet)

	r.HandleFunc("/accounts/{address}", c.HandleAccountByAddress).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/rewards", c.HandleAccountRewards).Methods(http.MethodGet)
	r.HandleFunc("/blocks", c.HandleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/prices/{pair}", c.HandlePrice).Methods(http.MethodGet)

	if c.App.Metrics != nil {
		r.Handle("/metrics", c.App.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", c.HandleWebSocket)

	return r, nil
}

// WithCORS allows browser clients from any origin; the API is read-only.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps not-found to 404 and logs everything else as a 500.
func (c *Controller) writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if isNotFound(err) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	c.App.Logger.Error("query failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "query failed")
}
