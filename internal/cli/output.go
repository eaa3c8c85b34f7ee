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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/backup"
	"github.com/jeremyhahn/go-keybox/pkg/docstore"
	"github.com/jeremyhahn/go-keybox/pkg/health"
	"github.com/jeremyhahn/go-keybox/pkg/restore"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
	"github.com/jeremyhahn/go-keybox/pkg/vaultkey"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	if format == "" {
		format = string(OutputFormatText)
	}
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error. The user-facing message comes first; the
// detailed chain follows for diagnostics.
func (p *Printer) PrintError(err error) error {
	msg := vaulterr.UserMessage(err)
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":    "error",
			"message":   msg,
			"error":     err.Error(),
			"retryable": vaulterr.IsRetryable(err),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %s\n", msg)
		if detail := err.Error(); detail != msg {
			fmt.Fprintf(p.writer, "  %s\n", detail)
		}
		return nil
	}
}

// PrintEntries prints a profile's entries
func (p *Printer) PrintEntries(entries []docstore.Entry) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"entries": entries,
		})
	case OutputFormatText:
		if len(entries) == 0 {
			fmt.Fprintln(p.writer, "No entries found")
			return nil
		}
		fmt.Fprintln(p.writer, "Entries:")
		for _, e := range entries {
			id, _ := e.ID()
			fmt.Fprintf(p.writer, "  - %s", id)
			if title, ok := e["title"].(string); ok && title != "" {
				fmt.Fprintf(p.writer, " (%s)", title)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintExport prints the outcome of an export
func (p *Printer) PrintExport(path string, exp *restore.Export) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "success",
			"path":   path,
			"items":  exp.Items,
			"ts":     exp.Payload.TS,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Exported %d item(s) to %s\n", exp.Items, path)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPlan prints a staged import without applying it
func (p *Printer) PrintPlan(plan *restore.Plan) error {
	upserts := make([]string, 0, len(plan.Upserts))
	for _, e := range plan.Upserts {
		id, _ := e.ID()
		upserts = append(upserts, id)
	}
	sort.Strings(upserts)

	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"plan_id": plan.ID,
			"mode":    plan.Mode,
			"total":   plan.Total,
			"upserts": upserts,
			"deletes": plan.Deletes,
			"skipped": plan.Skipped,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Import plan %s (%s)\n", plan.ID, plan.Mode)
		fmt.Fprintf(p.writer, "  Items in backup: %d\n", plan.Total)
		fmt.Fprintf(p.writer, "  To restore:      %d\n", len(upserts))
		fmt.Fprintf(p.writer, "  To delete:       %d\n", len(plan.Deletes))
		fmt.Fprintf(p.writer, "  Skipped:         %d\n", plan.Skipped)
		if len(upserts) > 0 {
			fmt.Fprintf(p.writer, "  Ids: %s\n", strings.Join(upserts, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintResult prints a committed import
func (p *Printer) PrintResult(result *restore.Result) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":   "success",
			"plan_id":  result.PlanID,
			"mode":     result.Mode,
			"total":    result.Total,
			"upserted": result.Upserted,
			"skipped":  result.Skipped,
			"deleted":  result.Deleted,
			"atomic":   result.Atomic,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, result.String())
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintInspect prints the unauthenticated header of a backup file
func (p *Printer) PrintInspect(path string, payload *backup.EncryptedPayload, valid error) error {
	switch p.format {
	case OutputFormatJSON:
		out := map[string]interface{}{
			"path":  path,
			"v":     payload.V,
			"alg":   payload.Alg,
			"kdf":   payload.KDF,
			"ts":    payload.TS,
			"valid": valid == nil,
		}
		if valid != nil {
			out["error"] = valid.Error()
		}
		return p.printJSON(out)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Backup: %s\n", path)
		fmt.Fprintf(p.writer, "  Version:   %d\n", payload.V)
		fmt.Fprintf(p.writer, "  Algorithm: %s\n", payload.Alg)
		fmt.Fprintf(p.writer, "  KDF:       %s\n", payload.KDF)
		fmt.Fprintf(p.writer, "  Created:   %s\n", payload.TS)
		if valid != nil {
			fmt.Fprintf(p.writer, "  Valid:     no (%v)\n", valid)
		} else {
			fmt.Fprintln(p.writer, "  Valid:     yes")
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintStatus prints a profile's enrollment status
func (p *Printer) PrintStatus(profile string, status vaultkey.Status) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"profile": profile,
			"status":  status,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Profile %s: %s\n", profile, status)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintInfo prints key/value pairs in stable order
func (p *Printer) PrintInfo(title string, info map[string]interface{}) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatText:
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(p.writer, "%s:\n", title)
		for _, k := range keys {
			fmt.Fprintf(p.writer, "  %-22s %v\n", k+":", info[k])
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints check results and the aggregate status
func (p *Printer) PrintHealth(status health.Status, results []health.CheckResult) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": status,
			"checks": results,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Status: %s\n", status)
		for _, r := range results {
			fmt.Fprintf(p.writer, "  %-8s %-9s %s", r.Name, r.Status, r.Message)
			if r.Error != "" {
				fmt.Fprintf(p.writer, " (%s)", r.Error)
			}
			fmt.Fprintln(p.writer)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
