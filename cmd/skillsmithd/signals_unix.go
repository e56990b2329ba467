//go:build !windows

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandlers installs the daemon's signal handlers. onReload runs
// on SIGHUP alongside the config watcher's own polling reload, so an
// operator can force an immediate reload rather than waiting for the next
// poll tick; it may be nil.
func setupSignalHandlers(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, onReload func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("shutdown signal received", "signal", sig)
				cancel()

			case syscall.SIGHUP:
				logger.Info("reload signal received")
				if onReload != nil {
					onReload()
				}

			case syscall.SIGUSR1:
				logger.Info("update signal received - self-update not yet implemented")
				// TODO: Trigger self-update
			}
		}
	}()
}
