// ABOUTME: The run subcommand: wires vault, identity, trust, router and sessions
// ABOUTME: Keeps both gateway connections alive until interrupted

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/fatih/color"

	"github.com/2389/coven-node/internal/capability"
	"github.com/2389/coven-node/internal/config"
	"github.com/2389/coven-node/internal/identity"
	"github.com/2389/coven-node/internal/keyvault"
	"github.com/2389/coven-node/internal/node"
	"github.com/2389/coven-node/internal/session"
	"github.com/2389/coven-node/internal/transport"
	"github.com/2389/coven-node/internal/trust"
)

func runNode(ctx context.Context) error {
	configPath := getConfigPath()

	printBanner()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	vault, err := keyvault.NewSQLiteVault(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	id, err := identity.CreateOrLoad(ctx, vault)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}

	profile, err := loadProfile(cfg)
	if err != nil {
		return err
	}

	router := capability.NewRouter(profile.ToPolicy())
	if err := registerBuiltins(router, id, profile); err != nil {
		return fmt.Errorf("registering builtin capabilities: %w", err)
	}

	trustStore := trust.NewStore(vault, cfg.Trust.RequireConfirmation)
	dialer := &transport.WebsocketDialer{
		Trust: trustStore,
		OnFirstUse: func(endpoint transport.Endpoint, fingerprint string) {
			yellow := color.New(color.FgYellow)
			yellow.Printf("    ⚠ pinned %s on first use (%s)\n", endpoint.Key(), fingerprint)
		},
	}

	endpoints := make([]transport.Endpoint, 0, len(cfg.Gateway.Endpoints))
	for _, ep := range cfg.Gateway.Endpoints {
		endpoints = append(endpoints, transport.Endpoint{
			Host:        ep.Host,
			Port:        ep.Port,
			Fingerprint: ep.Fingerprint,
		})
	}

	coordinator, err := node.New(node.Options{
		Platform: profile.Platform,
		Caps:     profile.Caps,
		Identity: id,
		Dialer:   dialer,
		Vault:    vault,
		Resolver: node.StaticResolver(endpoints),
		Router:   router,
		Backoff: session.BackoffConfig{
			Initial: cfg.Backoff.Initial,
			Ceiling: cfg.Backoff.Ceiling,
			Jitter:  cfg.Backoff.Jitter,
		},
		Timeouts: session.TimeoutConfig{
			Interactive: cfg.Timeouts.Interactive,
			Listing:     cfg.Timeouts.Listing,
			Abort:       cfg.Timeouts.Abort,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Device:   %s\n", id.DeviceID())
	green.Print("    ▶ ")
	fmt.Printf("Gateway:  %s\n", endpoints[0].Key())
	green.Print("    ▶ ")
	fmt.Printf("Commands: %v\n", router.Commands())
	fmt.Println()

	logger.Info("starting coven-node",
		"config", configPath,
		"device_id", id.DeviceID(),
		"platform", profile.Platform,
	)

	if err := coordinator.Start(ctx); err != nil {
		coordinator.Close()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return coordinator.Close()

		case n, ok := <-coordinator.Events():
			if !ok {
				return nil
			}
			if n.Kind == session.KindStateChange {
				logger.Info("session state changed",
					"role", string(n.Role),
					"state", n.State.String(),
					"connectivity", coordinator.Connectivity().String(),
				)
			}
		}
	}
}

// loadProfile reads the capability profile manifest, falling back to a
// permissive default when none is configured.
func loadProfile(cfg *config.Config) (*capability.Profile, error) {
	if cfg.Profile.Path == "" {
		return &capability.Profile{Platform: runtime.GOOS}, nil
	}
	profile, err := capability.LoadProfile(cfg.Profile.Path)
	if err != nil {
		return nil, err
	}
	if profile.Platform == "" {
		profile.Platform = runtime.GOOS
	}
	return profile, nil
}

// registerBuiltins installs the handful of commands every device answers.
// Hardware capabilities (camera, GPS, ...) are registered by the embedding
// platform layer, not here.
func registerBuiltins(router *capability.Router, id *identity.Identity, profile *capability.Profile) error {
	deviceInfo := func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]any{
			"deviceId": id.DeviceID(),
			"platform": profile.Platform,
			"version":  version,
			"caps":     profile.Caps,
		})
	}
	ping := func(_ context.Context, params json.RawMessage) (json.RawMessage, error) {
		if len(params) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return params, nil
	}

	if err := router.Register("device.info", deviceInfo); err != nil {
		return err
	}
	return router.Register("device.ping", ping)
}
