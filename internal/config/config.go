// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the keybox configuration file.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-keybox/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
)

// Storage backend names.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KEYBOX"

// Config represents the complete keybox configuration
type Config struct {
	Profile string        `yaml:"profile"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Backup  BackupConfig  `yaml:"backup"`
	Unlock  UnlockConfig  `yaml:"unlock"`
	Vault   VaultConfig   `yaml:"vault"`
	Metrics MetricsConfig `yaml:"metrics"`
	RNG     RNGConfig     `yaml:"rng"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the key and entry store. Path is a directory for the
// file backend and a database file for bolt.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// BackupConfig controls export policy
type BackupConfig struct {
	MinPassphraseLength int `yaml:"min_passphrase_length"`

	// MinPassphraseEntropy is an estimated-entropy floor in bits; 0 disables it
	MinPassphraseEntropy float64 `yaml:"min_passphrase_entropy"`
}

// UnlockConfig controls the passkey gate
type UnlockConfig struct {
	CeremonyMaxAge time.Duration   `yaml:"ceremony_max_age"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig controls per-profile attempt throttling
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	AttemptsPerMinute int  `yaml:"attempts_per_minute"`
	Burst             int  `yaml:"burst"`
}

// VaultConfig caps use of an unlocked master key. Zero selects the
// NIST SP 800-38D limits for AES-GCM with random nonces.
type VaultConfig struct {
	MaxEncryptions    int64 `yaml:"max_encryptions"`
	MaxEncryptedBytes int64 `yaml:"max_encrypted_bytes"`
}

// MetricsConfig controls metrics export. Textfile, when set, receives the
// registry in Prometheus text format after each command.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// RNGConfig selects the random source. FallbackMode, when set, is tried
// after a failed read in auto mode.
type RNGConfig struct {
	Mode         string `yaml:"mode"`
	FallbackMode string `yaml:"fallback_mode"`
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "keybox")
	}
	return ".keybox"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Profile: "default",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
			Path:    filepath.Join(DefaultDataDir(), "keybox.db"),
		},
		Backup: BackupConfig{
			MinPassphraseLength: 6,
		},
		Unlock: UnlockConfig{
			CeremonyMaxAge: 2 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				AttemptsPerMinute: 5,
				Burst:             5,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		RNG: RNGConfig{
			Mode: string(rand.ModeAuto),
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by the user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func env(name string) string {
	return os.Getenv(EnvPrefix + "_" + name)
}

// applyEnvOverrides applies KEYBOX_* environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := env("PROFILE"); v != "" {
		cfg.Profile = v
	}

	// Logging
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Storage
	if v := env("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := env("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	// Backup
	if v := env("MIN_PASSPHRASE_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Printf("Warning: invalid %s_MIN_PASSPHRASE_LENGTH value %q, using %d",
				EnvPrefix, v, cfg.Backup.MinPassphraseLength)
		} else {
			cfg.Backup.MinPassphraseLength = n
		}
	}

	// Unlock
	if v := env("CEREMONY_MAX_AGE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Printf("Warning: invalid %s_CEREMONY_MAX_AGE value %q, using %s: %v",
				EnvPrefix, v, cfg.Unlock.CeremonyMaxAge, err)
		} else {
			cfg.Unlock.CeremonyMaxAge = d
		}
	}
	if v := env("RATE_LIMIT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %s_RATE_LIMIT_ENABLED value %q, using %t",
				EnvPrefix, v, cfg.Unlock.RateLimit.Enabled)
		} else {
			cfg.Unlock.RateLimit.Enabled = b
		}
	}

	// Metrics
	if v := env("METRICS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("Warning: invalid %s_METRICS_ENABLED value %q, using %t",
				EnvPrefix, v, cfg.Metrics.Enabled)
		} else {
			cfg.Metrics.Enabled = b
		}
	}
	if v := env("METRICS_TEXTFILE"); v != "" {
		cfg.Metrics.Textfile = v
	}

	if v := env("RNG_MODE"); v != "" {
		cfg.RNG.Mode = v
	}
	if v := env("RNG_FALLBACK_MODE"); v != "" {
		cfg.RNG.FallbackMode = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Profile == "" {
		return fmt.Errorf("profile must be specified")
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn or error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("invalid storage backend: %q (must be memory, file or bolt)", c.Storage.Backend)
	}

	if c.Backup.MinPassphraseLength < 1 {
		return fmt.Errorf("backup min_passphrase_length must be at least 1")
	}
	if c.Backup.MinPassphraseEntropy < 0 {
		return fmt.Errorf("backup min_passphrase_entropy must not be negative")
	}

	if c.Unlock.CeremonyMaxAge < 0 {
		return fmt.Errorf("unlock ceremony_max_age must not be negative")
	}
	if rl := c.Unlock.RateLimit; rl.Enabled {
		if rl.AttemptsPerMinute < 1 {
			return fmt.Errorf("unlock rate_limit attempts_per_minute must be positive when enabled")
		}
		if rl.Burst < 0 {
			return fmt.Errorf("unlock rate_limit burst must not be negative")
		}
	}

	if c.Vault.MaxEncryptions < 0 || c.Vault.MaxEncryptedBytes < 0 {
		return fmt.Errorf("vault usage limits must not be negative")
	}

	if _, err := rand.ParseMode(c.RNG.Mode); err != nil {
		return fmt.Errorf("invalid rng mode: %w", err)
	}
	if _, err := rand.ParseMode(c.RNG.FallbackMode); err != nil {
		return fmt.Errorf("invalid rng fallback_mode: %w", err)
	}
	return nil
}
