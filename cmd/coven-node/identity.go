// ABOUTME: The identity subcommand: show, create or reset the device identity
// ABOUTME: Prints the device id and public key for gateway-side registration

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/2389/coven-node/internal/config"
	"github.com/2389/coven-node/internal/identity"
	"github.com/2389/coven-node/internal/keyvault"
)

func runIdentity(ctx context.Context, args []string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	vault, err := keyvault.NewSQLiteVault(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if len(args) > 0 && args[0] == "reset" {
		if err := identity.Reset(ctx, vault); err != nil {
			return err
		}
		color.New(color.FgYellow).Println("Device identity discarded. A new one is created on next run.")
		return nil
	}

	id, err := identity.CreateOrLoad(ctx, vault)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Print("Device ID:  ")
	fmt.Println(id.DeviceID())
	green.Print("Public key: ")
	fmt.Println(id.PublicKeyLine())
	return nil
}
