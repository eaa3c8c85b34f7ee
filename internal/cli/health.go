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

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keybox/pkg/health"
)

func newHealthCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that storage and the random source work",
		Long: `Check that the configured storage backend and the random source work.
Exits non-zero when a check is unhealthy. A non-transactional backend is
reported as degraded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			checker := health.NewChecker()
			checker.RegisterCheck("storage", health.StorageCheck(app.Backend))
			checker.RegisterCheck("rng", health.RNGCheck(app.RNG))

			results := checker.Run(cmd.Context())
			status := health.AggregateStatus(results)
			if err := NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintHealth(status, results); err != nil {
				return err
			}
			if status == health.StatusUnhealthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
}
