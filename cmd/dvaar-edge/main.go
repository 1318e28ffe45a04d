package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/dvaar/tunnel/internal/edge"
)

func main() {
	configPath := flag.String("config", "configs/edge.yaml", "path to edge configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := edge.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	server, err := edge.NewServer(cfg)
	if err != nil {
		slog.Error("failed to create edge server", "err", err)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		slog.Error("edge server exited with error", "err", err)
		os.Exit(1)
	}
}
