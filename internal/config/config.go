// ABOUTME: Configuration loading and parsing for coven-node
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-node configuration
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Profile  ProfileConfig  `yaml:"profile"`
	Storage  StorageConfig  `yaml:"storage"`
	Trust    TrustConfig    `yaml:"trust"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GatewayConfig lists the gateway endpoints to connect to. Endpoints here
// act as a static discovery source; a runtime resolver (mDNS, manual entry)
// can replace them.
type GatewayConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig is one gateway candidate.
type EndpointConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Fingerprint optionally pre-pins the endpoint's certificate (SHA-256 hex).
	Fingerprint string `yaml:"fingerprint"`
}

// ProfileConfig points at the device capability profile manifest.
type ProfileConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig holds the vault database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// TrustConfig controls first-use pinning behavior.
type TrustConfig struct {
	// RequireConfirmation stages new pins and refuses traffic until an
	// explicit `coven-node trust approve`. Default false: pin optimistically
	// and surface a notice.
	RequireConfirmation bool `yaml:"require_confirmation"`
}

// TimeoutsConfig holds per-request-class deadlines.
type TimeoutsConfig struct {
	Interactive time.Duration `yaml:"-"`
	Listing     time.Duration `yaml:"-"`
	Abort       time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InteractiveRaw string `yaml:"interactive"`
	ListingRaw     string `yaml:"listing"`
	AbortRaw       string `yaml:"abort"`
}

// BackoffConfig holds reconnect pacing.
type BackoffConfig struct {
	Initial time.Duration `yaml:"-"`
	Ceiling time.Duration `yaml:"-"`
	Jitter  float64       `yaml:"jitter"`

	// Raw string values for YAML unmarshaling
	InitialRaw string `yaml:"initial"`
	CeilingRaw string `yaml:"ceiling"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if len(c.Gateway.Endpoints) == 0 {
		return fmt.Errorf("gateway.endpoints requires at least one entry")
	}
	for i, ep := range c.Gateway.Endpoints {
		if ep.Host == "" {
			return fmt.Errorf("gateway.endpoints[%d].host is required", i)
		}
		if ep.Port <= 0 || ep.Port > 65535 {
			return fmt.Errorf("gateway.endpoints[%d].port %d out of range", i, ep.Port)
		}
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff.jitter must be between 0 and 1")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Timeouts.InteractiveRaw, "timeouts.interactive", &cfg.Timeouts.Interactive},
		{cfg.Timeouts.ListingRaw, "timeouts.listing", &cfg.Timeouts.Listing},
		{cfg.Timeouts.AbortRaw, "timeouts.abort", &cfg.Timeouts.Abort},
		{cfg.Backoff.InitialRaw, "backoff.initial", &cfg.Backoff.Initial},
		{cfg.Backoff.CeilingRaw, "backoff.ceiling", &cfg.Backoff.Ceiling},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
