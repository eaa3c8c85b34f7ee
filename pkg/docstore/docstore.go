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

// Package docstore persists vault entries as JSON documents keyed by
// profile and entry id.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Entry is an opaque vault record. Only "id" and "userId" are interpreted.
type Entry map[string]any

// ID returns the entry's id when it is a non-empty string.
func (e Entry) ID() (string, bool) {
	id, ok := e["id"].(string)
	return id, ok && id != ""
}

// Store keeps entries in a storage.Backend under entries/{profile}/.
type Store struct {
	backend storage.Backend
}

// New returns a Store over backend.
func New(backend storage.Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("docstore: backend cannot be nil")
	}
	return &Store{backend: backend}, nil
}

// Transactional reports whether Commit applies its batch atomically.
func (s *Store) Transactional() bool {
	_, ok := s.backend.(storage.Transactional)
	return ok
}

// List returns every entry of profileID ordered by storage key.
func (s *Store) List(ctx context.Context, profileID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys, err := storage.ListEntryKeys(s.backend, profileID)
	if err != nil {
		return nil, mapError(vaulterr.OpStore, err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.backend.Get(key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, mapError(vaulterr.OpStore, err)
		}
		entry, err := decode(data)
		if err != nil {
			return nil, vaulterr.Format(vaulterr.OpStore, "entry %s: %v", key, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get returns one entry.
func (s *Store) Get(ctx context.Context, profileID, id string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := storage.EntryPath(profileID, id)
	if err != nil {
		return nil, false, mapError(vaulterr.OpStore, err)
	}
	data, err := s.backend.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(vaulterr.OpStore, err)
	}
	entry, err := decode(data)
	if err != nil {
		return nil, true, vaulterr.Format(vaulterr.OpStore, "entry %s: %v", key, err)
	}
	return entry, true, nil
}

// Put stores entry for profileID. The entry's userId is set to profileID.
func (s *Store) Put(ctx context.Context, profileID string, entry Entry) error {
	_, err := s.Commit(ctx, profileID, nil, []Entry{entry})
	return err
}

// Delete removes an entry. Deleting a missing entry is not an error.
func (s *Store) Delete(ctx context.Context, profileID, id string) error {
	_, err := s.Commit(ctx, profileID, []string{id}, nil)
	return err
}

// Commit deletes the listed ids and then upserts entries in one batch. The
// batch is atomic when the backend is transactional; atomic reports which
// path was taken.
func (s *Store) Commit(ctx context.Context, profileID string, deleteIDs []string, upserts []Entry) (atomic bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ops := make([]storage.Op, 0, len(deleteIDs)+len(upserts))
	for _, id := range deleteIDs {
		key, err := storage.EntryPath(profileID, id)
		if err != nil {
			return false, mapError(vaulterr.OpStore, err)
		}
		ops = append(ops, storage.DeleteOp(key))
	}
	puts, err := putOps(profileID, upserts)
	if err != nil {
		return false, err
	}
	ops = append(ops, puts...)
	if len(ops) == 0 {
		return s.Transactional(), nil
	}

	atomic, err = storage.Apply(s.backend, ops)
	if err != nil {
		return atomic, mapError(vaulterr.OpStore, err)
	}
	return atomic, nil
}

// Replace deletes every entry of profileID, including ones written after
// the caller last listed them, and then upserts entries. deleted counts the
// entries that existed when the replace ran.
func (s *Store) Replace(ctx context.Context, profileID string, upserts []Entry) (deleted int, atomic bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	prefix, err := storage.EntryPrefix(profileID)
	if err != nil {
		return 0, false, mapError(vaulterr.OpStore, err)
	}
	ops, err := putOps(profileID, upserts)
	if err != nil {
		return 0, false, err
	}

	deleted, atomic, err = storage.ReplacePrefix(s.backend, prefix, ops)
	if err != nil {
		return deleted, atomic, mapError(vaulterr.OpStore, err)
	}
	return deleted, atomic, nil
}

// putOps encodes entries for profileID, stamping each with its userId.
func putOps(profileID string, entries []Entry) ([]storage.Op, error) {
	ops := make([]storage.Op, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.ID()
		if !ok {
			return nil, vaulterr.InvalidInput(vaulterr.OpStore, "entry has no id")
		}
		key, err := storage.EntryPath(profileID, id)
		if err != nil {
			return nil, mapError(vaulterr.OpStore, err)
		}
		doc := make(Entry, len(entry)+1)
		for k, v := range entry {
			doc[k] = v
		}
		doc["userId"] = profileID
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, vaulterr.InvalidInput(vaulterr.OpStore, "entry %q: %v", id, err)
		}
		ops = append(ops, storage.PutOp(key, data))
	}
	return ops, nil
}

func decode(data []byte) (Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var entry Entry
	if err := dec.Decode(&entry); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.New("not a JSON object")
	}
	return entry, nil
}

func mapError(op string, err error) error {
	if errors.Is(err, storage.ErrInvalidKey) {
		return vaulterr.InvalidInput(op, "%v", err)
	}
	return vaulterr.StorageUnavailable(op, err)
}
