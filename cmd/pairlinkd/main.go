package main

import (
	"net/http"
	"os"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/internal/relay"
)

func main() {
	cfg := config.ParseServerConfig()
	logger := logging.New("pairlinkd", cfg.LogLevel)

	server := relay.NewServer(cfg, logger)

	logger.Info("relay listening", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, server.Handler()); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}
