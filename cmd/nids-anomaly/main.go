// Command nids-anomaly runs the network-anomaly producer stub as a
// standalone process, launched and supervised by idsaggd's integration
// controller (or run by hand for local testing).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/idsaggd/idsaggd/internal/producer/anomalystub"
)

func main() {
	var (
		bind     = flag.String("bind", "tcp://127.0.0.1:9102", "publisher bind address")
		interval = flag.Duration("interval", 7*time.Second, "synthetic alert interval")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := anomalystub.DefaultConfig(*bind)
	cfg.Interval = *interval

	stub, err := anomalystub.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("starting nids-anomaly producer", "bind", *bind)
	if err := stub.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("producer exited with error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = stub.Shutdown(shutdownCtx)

	logger.Info("nids-anomaly shutdown complete")
}
