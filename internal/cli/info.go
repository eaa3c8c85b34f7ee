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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keybox/pkg/backup"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
)

func newInfoCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the active configuration and crypto parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			cfg := opts.Config
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintInfo("keybox", map[string]interface{}{
				"profile":             cfg.Profile,
				"storage_backend":     cfg.Storage.Backend,
				"storage_path":        cfg.Storage.Path,
				"transactional":       app.Docs.Transactional(),
				"rng_mode":            cfg.RNG.Mode,
				"rng_fallback_mode":   cfg.RNG.FallbackMode,
				"aes_ni":              aead.HasAESNI(),
				"backup_version":      backup.Version,
				"backup_algorithm":    backup.Algorithm,
				"backup_kdf":          backup.KDF,
				"min_passphrase":      cfg.Backup.MinPassphraseLength,
				"ceremony_max_age":    cfg.Unlock.CeremonyMaxAge.String(),
				"unlock_rate_limited": app.Limiter.IsEnabled(),
				"correlation_id":      opts.correlationID,
			})
		},
	}
}
