// Command flowswap-lpd runs a FlowSwap liquidity-provider node: the swap
// engine, the three chain watchers, periodic maintenance, and the thin
// HTTP surface the engine exposes itself through.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/config"
)

// shutdownDrain bounds how long Shutdown waits for in-flight watcher work
// to finish before tearing down regardless.
const shutdownDrain = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Error("invalid config")
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	entry := log.WithField("component", "flowswap-lpd")

	app, err := NewAppContext(cfg, entry)
	if err != nil {
		entry.WithError(err).Error("failed to initialize node")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		entry.WithError(err).Error("failed to start background services")
		os.Exit(1)
	}

	srv := app.server.Router()
	addr := fmt.Sprintf(":%d", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		entry.WithField("addr", addr).Info("starting flowswap-lpd")
		errCh <- srv.Run(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		entry.WithField("signal", sig).Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			entry.WithError(err).Error("http server exited unexpectedly")
		}
	}

	cancel()
	app.Shutdown(shutdownDrain)
	entry.Info("flowswap-lpd stopped")
}
