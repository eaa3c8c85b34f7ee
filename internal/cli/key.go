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
)

func newKeyCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the passkey-wrapped vault key of a profile",
	}
	cmd.AddCommand(newKeyStatusCmd(opts))
	cmd.AddCommand(newKeyEnrollCmd(opts))
	cmd.AddCommand(newKeyUnlockCmd(opts))
	return cmd
}

func newKeyStatusCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the profile has an enrolled vault key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			status, err := app.Manager.Status(cmd.Context(), opts.Config.Profile)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintStatus(opts.Config.Profile, status)
		},
	}
}

func newKeyEnrollCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "enroll",
		Short: "Generate a vault key and wrap it behind a passkey ceremony",
		Long: `Generate a new vault master key for the profile and store it wrapped.
Enrolling again replaces the previous key; data sealed under the old key
can no longer be opened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			profile := opts.Config.Profile
			signal, err := app.Authenticator(cmd.InOrStdin(), cmd.ErrOrStderr()).Verify(cmd.Context(), profile)
			if err != nil {
				return err
			}
			if _, err := app.Manager.Enroll(cmd.Context(), profile, signal); err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintSuccess(fmt.Sprintf("Vault key enrolled for profile %s", profile))
		},
	}
}

func newKeyUnlockCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Recover the vault key after a passkey ceremony",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			profile := opts.Config.Profile
			signal, err := app.Authenticator(cmd.InOrStdin(), cmd.ErrOrStderr()).Verify(cmd.Context(), profile)
			if err != nil {
				return err
			}
			if _, err := app.Manager.Unlock(cmd.Context(), profile, signal); err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintSuccess(fmt.Sprintf("Vault unlocked for profile %s", profile))
		},
	}
}
