// Command revroute ranks reviewers, serves the routing API and runs
// backtests against recorded history.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/revroute/pkg/logger"
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("revroute: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}
