// ABOUTME: The trust subcommand: list, approve and reject endpoint pins
// ABOUTME: The only path that overwrites a pin or clears a rejection

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/coven-node/internal/config"
	"github.com/2389/coven-node/internal/keyvault"
	"github.com/2389/coven-node/internal/trust"
)

func runTrust(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: coven-node trust <list|approve|reject>")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	vault, err := keyvault.NewSQLiteVault(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	store := trust.NewStore(vault, cfg.Trust.RequireConfirmation)

	switch args[0] {
	case "list":
		return trustList(ctx, store)

	case "approve":
		if len(args) != 3 {
			return fmt.Errorf("usage: coven-node trust approve <host:port> <fingerprint>")
		}
		if err := store.Approve(ctx, args[1], args[2]); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("Pinned %s\n", args[1])
		return nil

	case "reject":
		if len(args) != 2 {
			return fmt.Errorf("usage: coven-node trust reject <host:port>")
		}
		if err := store.Reject(ctx, args[1]); err != nil {
			return err
		}
		color.New(color.FgYellow).Printf("Rejected %s\n", args[1])
		return nil

	default:
		return fmt.Errorf("unknown trust command: %s", args[0])
	}
}

func trustList(ctx context.Context, store *trust.Store) error {
	records, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No pinned endpoints.")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	for _, rec := range records {
		switch rec.State {
		case trust.StatePinned:
			green.Print("  pinned   ")
		case trust.StatePending:
			yellow.Print("  pending  ")
		case trust.StateRejected:
			red.Print("  rejected ")
		}
		fmt.Printf("%s  %s  (first seen %s)\n",
			rec.EndpointKey, rec.Fingerprint, rec.FirstSeenAt.Format("2006-01-02"))
	}
	return nil
}
