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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-keybox/pkg/docstore"
)

func newEntriesCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "Manage the entries of a profile",
	}
	cmd.AddCommand(newEntriesListCmd(opts))
	cmd.AddCommand(newEntriesGetCmd(opts))
	cmd.AddCommand(newEntriesPutCmd(opts))
	cmd.AddCommand(newEntriesDeleteCmd(opts))
	return cmd
}

func newEntriesListCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			entries, err := app.Docs.List(cmd.Context(), opts.Config.Profile)
			if err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintEntries(entries)
		},
	}
}

func newEntriesGetCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Print one entry as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			entry, ok, err := app.Docs.Get(cmd.Context(), opts.Config.Profile, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("entry not found: %s", args[0])
			}
			return NewPrinter(string(OutputFormatJSON), cmd.OutOrStdout()).printJSON(entry)
		},
	}
}

func newEntriesPutCmd(opts *Options) *cobra.Command {
	var (
		id      string
		rawJSON string
	)
	cmd := &cobra.Command{
		Use:   "put [KEY=VALUE...]",
		Short: "Create or replace an entry",
		Long: `Create or replace an entry. Fields are given as KEY=VALUE pairs or as
a JSON object with --json. The entry id comes from --id or the "id" field.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := buildEntry(id, rawJSON, args)
			if err != nil {
				return err
			}

			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.Docs.Put(cmd.Context(), opts.Config.Profile, entry); err != nil {
				return err
			}
			entryID, _ := entry.ID()
			printVerbose(cmd, opts, "stored entry %s for profile %s", entryID, opts.Config.Profile)
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintSuccess(fmt.Sprintf("Entry %s saved", entryID))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "entry id")
	cmd.Flags().StringVar(&rawJSON, "json", "", "entry as a JSON object")
	return cmd
}

func newEntriesDeleteCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp(opts.Config, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			if err := app.Docs.Delete(cmd.Context(), opts.Config.Profile, args[0]); err != nil {
				return err
			}
			return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintSuccess(fmt.Sprintf("Entry %s deleted", args[0]))
		},
	}
}

// buildEntry assembles an entry from --json and KEY=VALUE arguments. Pairs
// override fields from the JSON object; --id overrides both.
func buildEntry(id, rawJSON string, pairs []string) (docstore.Entry, error) {
	entry := docstore.Entry{}
	if rawJSON != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(rawJSON)))
		dec.UseNumber()
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, expected KEY=VALUE", pair)
		}
		entry[k] = v
	}
	if id != "" {
		entry["id"] = id
	}
	if _, ok := entry.ID(); !ok {
		return nil, fmt.Errorf("entry id is required (use --id)")
	}
	return entry, nil
}
