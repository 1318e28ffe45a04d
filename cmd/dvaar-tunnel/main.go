package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvaar/tunnel/internal/tunnelclient"
)

func main() {
	configPath := flag.String("config", "configs/tunnel.yaml", "path to tunnel client configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := tunnelclient.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := tunnelclient.New(cfg)

	slog.Info("tunnel client starting")
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("tunnel client exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("tunnel client stopped")
}
