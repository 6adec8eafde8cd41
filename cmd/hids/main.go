// Command hids runs the host producer stub as a standalone process,
// launched and supervised by idsaggd's integration controller (or run by
// hand for local testing).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/idsaggd/idsaggd/internal/producer/hoststub"
)

func main() {
	var (
		bind     = flag.String("bind", "tcp://127.0.0.1:9103", "publisher bind address")
		hostname = flag.String("hostname", "", "hostname reported in alert metadata (defaults to os.Hostname)")
		interval = flag.Duration("interval", 10*time.Second, "sampling interval")
		debug    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	h := *hostname
	if h == "" {
		if name, err := os.Hostname(); err == nil {
			h = name
		}
	}

	cfg := hoststub.DefaultConfig(*bind, h)
	cfg.Interval = *interval

	stub, err := hoststub.New(cfg, logger)
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

	logger.Info("starting hids producer", "bind", *bind, "hostname", h)
	if err := stub.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("producer exited with error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = stub.Shutdown(shutdownCtx)

	logger.Info("hids shutdown complete")
}
