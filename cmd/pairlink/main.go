package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/engine"
	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/internal/rtc"
	"github.com/pairlink/pairlink/internal/syncstore"
	"github.com/pairlink/pairlink/pkg/protocol"
)

const heartbeatInterval = 30 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) == 0 || hasHelpFlag(args) {
		printUsage()
		if len(args) == 0 {
			os.Exit(2)
		}
		return
	}

	switch args[0] {
	case protocol.RoleAgent, protocol.RoleMobile:
		run(args[0], args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func run(role string, args []string) {
	cfg := config.ParseClientConfig(role, args)
	if cfg.PairingCode == "" {
		fmt.Fprintln(os.Stderr, "--pairing-code is required")
		os.Exit(2)
	}

	logger := logging.New("pairlink", cfg.LogLevel)
	store := syncstore.New(cfg.SnapshotPath, logger)

	eng, err := engine.New(cfg, rtc.NewPionFactory(logger), store, logger)
	if err != nil {
		logger.Error("engine setup failed", "error", err)
		os.Exit(1)
	}
	eng.Start()
	defer eng.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Periodically write our own heartbeat record so two linked endpoints
	// visibly converge.
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	logger.Info("endpoint running", "role", role, "pairingCode", cfg.PairingCode)

	for {
		select {
		case <-stop:
			logger.Info("shutting down")
			return
		case <-heartbeat.C:
			store.Set("heartbeat", role, map[string]any{
				"at": time.Now().Format(time.RFC3339),
			})
		case ev := <-eng.Events():
			logEvent(logger, ev)
		}
	}
}

func logEvent(logger *slog.Logger, ev engine.Event) {
	switch ev.Kind {
	case engine.EventConnected:
		logger.Info("peer connected")
	case engine.EventReconnecting:
		logger.Info("reconnecting", "attempt", ev.Attempt)
	case engine.EventDisconnected:
		logger.Info("peer disconnected")
	case engine.EventMessageReceived:
		logger.Info("message received", "type", ev.Envelope.Type)
	case engine.EventSyncUpdated:
		logger.Info("record synced",
			"collection", ev.Collection,
			"id", ev.Record.ID,
			"version", ev.Record.Version,
			"deleted", ev.Record.Deleted())
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pairlink <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  agent    run the desktop endpoint")
	fmt.Fprintln(os.Stderr, "  mobile   run the mobile endpoint")
	fmt.Fprintln(os.Stderr, "quick examples:")
	fmt.Fprintln(os.Stderr, "  pairlink agent --pairing-code HK7D2Q --server-url http://localhost:8080")
	fmt.Fprintln(os.Stderr, "  pairlink mobile --pairing-code HK7D2Q --server-url http://localhost:8080")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
