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

package cli

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/internal/config"
)

// Options holds the resolved CLI settings
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	// Config is the loaded configuration with flag overrides applied
	Config *config.Config

	v             *viper.Viper
	correlationID string
}

// flag name -> viper key
var flagKeys = map[string]string{
	"profile":         "profile",
	"storage-backend": "storage.backend",
	"storage-path":    "storage.path",
	"log-level":       "logging.level",
	"output":          "output",
	"verbose":         "verbose",
}

func (o *Options) bind(flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		_ = o.v.BindPFlag(key, flags.Lookup(name))
	}
	o.v.SetEnvPrefix(config.EnvPrefix)
}

// load reads the config file and layers changed flags on top. Precedence
// is flag, then KEYBOX_* environment, then file, then built-in defaults.
func (o *Options) load() error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}

	o.v.SetDefault("profile", cfg.Profile)
	o.v.SetDefault("storage.backend", cfg.Storage.Backend)
	o.v.SetDefault("storage.path", cfg.Storage.Path)
	o.v.SetDefault("logging.level", cfg.Logging.Level)
	_ = o.v.BindEnv("output", config.EnvPrefix+"_OUTPUT")

	cfg.Profile = o.v.GetString("profile")
	cfg.Storage.Backend = o.v.GetString("storage.backend")
	cfg.Storage.Path = o.v.GetString("storage.path")
	cfg.Logging.Level = o.v.GetString("logging.level")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	o.OutputFormat = o.v.GetString("output")
	switch OutputFormat(o.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
	default:
		return fmt.Errorf("unknown output format: %s", o.OutputFormat)
	}
	o.Verbose = o.v.GetBool("verbose")
	o.Config = cfg
	return nil
}
