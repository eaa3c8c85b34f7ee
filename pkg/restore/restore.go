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

// Package restore exports a profile's entries to an encrypted backup and
// imports them back.
//
// Import is two-phase. Prepare decrypts and validates an archive and stages
// a Plan; Commit applies it. A replace import deletes every existing entry of
// the profile and must be confirmed by the caller before the archive is even
// decrypted.
package restore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/docstore"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Mode selects how imported entries combine with existing ones.
type Mode string

const (
	// ModeMerge upserts by id and never deletes.
	ModeMerge Mode = "merge"

	// ModeReplace deletes every existing entry, then upserts.
	ModeReplace Mode = "replace"
)

// ParseMode parses "merge" or "replace".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", vaulterr.InvalidInput(vaulterr.OpImport, "unknown restore mode %q", s)
	}
}

// Fields removed from imported entries. The id becomes the storage key and
// timestamps are reassigned by the store.
var strippedFields = []string{"createdAt", "updatedAt"}

// Snapshot is the plaintext content of a backup archive.
type Snapshot struct {
	UserID string           `json:"userId"`
	Items  []docstore.Entry `json:"items"`
}

// UnmarshalJSON tolerates a missing or non-array items field, which is read
// as empty. Items that are not JSON objects decode as nil entries.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID any             `json:"userId"`
		Items  json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	userID, _ := raw.UserID.(string)
	*s = Snapshot{UserID: userID}

	var items []json.RawMessage
	if err := json.Unmarshal(raw.Items, &items); err != nil {
		return nil
	}
	s.Items = make([]docstore.Entry, len(items))
	for i, item := range items {
		dec := json.NewDecoder(bytes.NewReader(item))
		dec.UseNumber()
		var entry docstore.Entry
		if err := dec.Decode(&entry); err != nil {
			continue
		}
		s.Items[i] = entry
	}
	return nil
}

// Request describes one import.
type Request struct {
	ProfileID  string
	Archive    []byte
	Passphrase string
	Mode       Mode

	// Confirmed must be true for ModeReplace.
	Confirmed bool
}

// Plan is a staged import ready to Commit.
type Plan struct {
	ID        string
	ProfileID string
	Mode      Mode
	CreatedAt time.Time

	// Deletes lists the ids that existed when the plan was staged. It is a
	// preview only: a replace removes every entry present at commit time.
	Deletes []string

	// Upserts holds the normalised entries to write.
	Upserts []docstore.Entry

	// Skipped counts archive items without a usable id.
	Skipped int

	// Total is the number of items in the archive.
	Total int

	confirmed bool
	committed atomic.Bool
}

func (p *Plan) claim() bool { return p.committed.CompareAndSwap(false, true) }
func (p *Plan) release()    { p.committed.Store(false) }

// Result summarises a committed import.
type Result struct {
	PlanID   string
	Mode     Mode
	Total    int
	Upserted int
	Skipped  int
	Deleted  int

	// Atomic reports whether the store applied the plan as one transaction.
	Atomic bool
}

func (r *Result) String() string {
	return fmt.Sprintf("import complete: %d item(s) restored, %d skipped, %d deleted",
		r.Upserted, r.Skipped, r.Deleted)
}

// normalize returns a copy of item ready for upsert, or false if the item
// has no non-empty string id.
func normalize(item docstore.Entry, profileID string) (docstore.Entry, bool) {
	if item == nil {
		return nil, false
	}
	if _, ok := item.ID(); !ok {
		return nil, false
	}
	out := make(docstore.Entry, len(item))
	for k, v := range item {
		out[k] = v
	}
	for _, f := range strippedFields {
		delete(out, f)
	}
	out["userId"] = profileID
	return out, true
}
