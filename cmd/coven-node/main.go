// ABOUTME: Entry point for the coven-node device client
// ABOUTME: Runs the dual gateway sessions and manages identity and trust

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-node/internal/config"
)

const banner = `
                                        _
  ___ _____ _____ ___ ___ ___ ___ _| |___
 |  _|     |  |  | -_|   |___|   | . | -_|
 |___|_____|\___/|___|_|_|   |_|_|___|___|

`

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-node <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run                      Connect to the gateway and serve invokes")
		fmt.Println("  identity                 Show (or create) the device identity")
		fmt.Println("  identity reset           Discard the device identity")
		fmt.Println("  trust list               List pinned gateway endpoints")
		fmt.Println("  trust approve <ep> <fp>  Pin a fingerprint for an endpoint")
		fmt.Println("  trust reject <ep>        Reject an endpoint")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runNode(ctx)
	case "identity":
		err = runIdentity(ctx, os.Args[2:])
	case "trust":
		err = runTrust(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the config file path from COVEN_NODE_CONFIG or the
// default location.
func getConfigPath() string {
	if path := os.Getenv("COVEN_NODE_CONFIG"); path != "" {
		return path
	}
	return "coven-node.yaml"
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printBanner() {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)
}
