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
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keybox/pkg/backup"
	"github.com/jeremyhahn/go-keybox/pkg/restore"
)

func newBackupCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and import encrypted backups",
	}
	cmd.AddCommand(newBackupExportCmd(opts))
	cmd.AddCommand(newBackupImportCmd(opts))
	cmd.AddCommand(newBackupInspectCmd(opts))
	return cmd
}

func newBackupExportCmd(opts *Options) *cobra.Command {
	var (
		out      string
		passFile string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every entry of the profile to an encrypted backup file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := passphrase(cmd.InOrStdin(), cmd.ErrOrStderr(), passFile, true)
			if err != nil {
				return err
			}

			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			exp, err := app.Restore.Export(cmd.Context(), opts.Config.Profile, pass)
			if err != nil {
				return err
			}
			path := out
			if path == "" {
				path = exp.FileName
			}
			if err := backup.WriteFile(path, exp.Payload); err != nil {
				return fmt.Errorf("failed to write backup: %w", err)
			}
			printVerbose(cmd, opts, "wrote %s with permissions %o", path, backup.FilePermissions)
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintExport(path, exp)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default keybox-backup-YYYY-MM-DD.json)")
	cmd.Flags().StringVar(&passFile, "passphrase-file", "", "read the passphrase from a file")
	return cmd
}

func newBackupImportCmd(opts *Options) *cobra.Command {
	var (
		mode     string
		yes      bool
		dryRun   bool
		passFile string
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Restore entries from an encrypted backup file",
		Long: `Restore entries from an encrypted backup file.

In merge mode (default) entries from the backup are added or replace entries
with the same id. In replace mode every existing entry of the profile is
deleted first; this requires --yes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := restore.ParseMode(mode)
			if err != nil {
				return err
			}
			// #nosec G304 - path is provided by the user
			archive, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}
			pass, err := passphrase(cmd.InOrStdin(), cmd.ErrOrStderr(), passFile, false)
			if err != nil {
				return err
			}

			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			plan, err := app.Restore.Prepare(cmd.Context(), restore.Request{
				ProfileID:  opts.Config.Profile,
				Archive:    archive,
				Passphrase: pass,
				Mode:       m,
				Confirmed:  yes,
			})
			if err != nil {
				return err
			}

			printer := NewPrinter(opts.OutputFormat, cmd.OutOrStdout())
			if dryRun {
				return printer.PrintPlan(plan)
			}
			result, err := app.Restore.Commit(cmd.Context(), plan)
			if err != nil {
				return err
			}
			if !result.Atomic {
				printVerbose(cmd, opts, "backend %s applied the import without a transaction", opts.Config.Storage.Backend)
			}
			return printer.PrintResult(result)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(restore.ModeMerge), "import mode (merge, replace)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm a replace import")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "decrypt and show the plan without writing")
	cmd.Flags().StringVar(&passFile, "passphrase-file", "", "read the passphrase from a file")
	return cmd
}

func newBackupInspectCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show the header of a backup file without decrypting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := backup.ReadFile(args[0])
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintInspect(args[0], payload, payload.Validate())
		},
	}
}
