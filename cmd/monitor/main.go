package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/canopy-network/bakerx/app/monitor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := monitor.Initialize(ctx)

	if err := app.Start(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
