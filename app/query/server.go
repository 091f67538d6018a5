package query

import (
	"net/http"

	"github.com/canopy-network/bakerx/app/query/controller"
	"github.com/canopy-network/bakerx/app/query/types"
)

// NewServer builds the HTTP server of app, listening on addr.
// Use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces.
func NewServer(app *types.App, addr string) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	return nil
}
