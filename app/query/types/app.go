package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/bakerx/app/query/live"
	"github.com/canopy-network/bakerx/pkg/db"
	"github.com/canopy-network/bakerx/pkg/metrics"
	"github.com/canopy-network/bakerx/pkg/scheduler"
	"go.uber.org/zap"
)

// JobLister is satisfied by *scheduler.Scheduler.
type JobLister interface {
	Statuses() []scheduler.JobStatus
}

type App struct {
	Store db.QueryStore
	// Jobs may be nil when the API runs without a scheduler.
	Jobs    JobLister
	Metrics *metrics.Metrics
	// Hub is nil when live events are disabled.
	Hub *live.Hub
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start serves until ctx ends, then drains in-flight requests for at most shutdownTimeout.
func (a *App) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	a.Logger.Info("Starting server", zap.String("addr", a.Server.Addr))
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve %s: %w", a.Server.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	for range errCh {
	}
	return nil
}
