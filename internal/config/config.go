// Package config loads rustible.toml and layers environment variables and
// CLI flags over it, following infrastructure/config/loader.go's
// secret-first/env/default layering idiom.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	infraconfig "github.com/rustible/rustible/infrastructure/config"
)

// Config is the CLI's file-backed defaults, read from rustible.toml.
// Every field also has an environment-variable override and a CLI flag
// that takes precedence over both.
type Config struct {
	Inventory string `toml:"inventory"`
	Forks     int    `toml:"forks"`
	Scheme    string `toml:"connection_scheme"`

	Timeouts TimeoutsConfig `toml:"timeouts"`
	Vault    VaultConfig    `toml:"vault"`
	Lint     LintConfig     `toml:"lint"`
}

// TimeoutsConfig mirrors infrastructure/config's DefaultTimeouts, made
// overridable from rustible.toml.
type TimeoutsConfig struct {
	ConnectionSeconds  int `toml:"connection_seconds"`
	CheckpointSeconds  int `toml:"checkpoint_seconds"`
	TransactionSeconds int `toml:"transaction_seconds"`
}

// VaultConfig configures the secret-encryption CLI surface.
type VaultConfig struct {
	KeyEnv string `toml:"key_env"`
}

// LintConfig configures the static analyzer's default thresholds and
// filters for the `lint` subcommand.
type LintConfig struct {
	MinSeverity string   `toml:"min_severity"`
	Ignore      []string `toml:"ignore"`
	Watch       bool     `toml:"watch"`
}

// Default returns the built-in defaults, used when no rustible.toml is
// present.
func Default() Config {
	timeouts := infraconfig.GetDefaultTimeouts()
	return Config{
		Inventory: "inventory.ini",
		Forks:     5,
		Scheme:    "ssh",
		Timeouts: TimeoutsConfig{
			ConnectionSeconds:  int(timeouts.Connection / time.Second),
			CheckpointSeconds:  int(timeouts.Checkpoint / time.Second),
			TransactionSeconds: int(timeouts.Transaction / time.Second),
		},
		Vault: VaultConfig{KeyEnv: "RUSTIBLE_VAULT_KEY"},
		Lint:  LintConfig{MinSeverity: "hint"},
	}
}

// Load reads path (if it exists) over the built-in defaults, then applies
// RUSTIBLE_*-prefixed environment overrides. A missing file is not an
// error: the CLI runs on defaults plus environment plus flags.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	cfg.Inventory = infraconfig.GetEnv("RUSTIBLE_INVENTORY", cfg.Inventory)
	cfg.Forks = infraconfig.GetEnvInt("RUSTIBLE_FORKS", cfg.Forks)
	cfg.Scheme = infraconfig.GetEnv("RUSTIBLE_CONNECTION_SCHEME", cfg.Scheme)
	cfg.Vault.KeyEnv = infraconfig.GetEnv("RUSTIBLE_VAULT_KEY_ENV", cfg.Vault.KeyEnv)
	return cfg, nil
}

// ConnectionTimeout returns the configured connection timeout as a
// time.Duration.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.Timeouts.ConnectionSeconds) * time.Second
}
