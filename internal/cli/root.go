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
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-keybox/internal/config"
	"github.com/jeremyhahn/go-keybox/pkg/correlation"
)

// NewRootCmd builds the keybox command tree. Each call returns an
// independent tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&Options{v: viper.New()})
}

func newRootCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keybox",
		Short: "keybox - encrypted vault backups and passkey-gated vault keys",
		Long: `keybox manages the vault master key of a local profile and exports or
imports the profile's entries as passphrase-encrypted backup files.

Storage backends:
  - memory: in-process, for trying things out
  - file:   one file per record under a directory
  - bolt:   a single bbolt database file (transactional)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx, id := correlation.Ensure(cmd.Context(), os.Getenv(config.EnvPrefix+"_CORRELATION_ID"))
			cmd.SetContext(ctx)
			opts.correlationID = id
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (YAML)")
	flags.String("profile", "", "profile id")
	flags.String("storage-backend", "", "storage backend (memory, file, bolt)")
	flags.String("storage-path", "", "storage directory (file) or database path (bolt)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.StringP("output", "o", "text", "output format (text, json)")
	flags.BoolP("verbose", "v", false, "verbose output")

	opts.bind(flags)

	cmd.AddCommand(newVersionCmd(opts))
	cmd.AddCommand(newInfoCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	cmd.AddCommand(newEntriesCmd(opts))
	cmd.AddCommand(newBackupCmd(opts))
	cmd.AddCommand(newKeyCmd(opts))

	return cmd
}

// Execute runs the root command and reports errors on stderr.
func Execute() int {
	cmd := NewRootCmd()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		format, _ := cmd.PersistentFlags().GetString("output")
		handleError(os.Stderr, format, err)
		return 1
	}
	return 0
}

// handleError prints an error in the selected output format
func handleError(w io.Writer, format string, err error) {
	printer := NewPrinter(format, w)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
}

// printVerbose prints a message if verbose mode is enabled
func printVerbose(cmd *cobra.Command, opts *Options, format string, args ...interface{}) {
	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
