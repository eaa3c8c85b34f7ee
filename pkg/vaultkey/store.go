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

package vaultkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Slot names a per-profile value in the key store.
type Slot string

const (
	SlotWrappedVaultKey Slot = "wrappedVaultKey"
	SlotUnwrapKey       Slot = "unwrapKey"
)

// ProfileKeyStore persists per-profile key material in a storage.Backend.
// Operations on the same (profile, slot) are linearised; different slots
// proceed independently.
type ProfileKeyStore struct {
	backend storage.Backend
	locks   *keyedMutex
}

// NewProfileKeyStore returns a store over backend.
func NewProfileKeyStore(backend storage.Backend) (*ProfileKeyStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("vaultkey: backend cannot be nil")
	}
	return &ProfileKeyStore{backend: backend, locks: newKeyedMutex()}, nil
}

// Backend returns the underlying storage backend.
func (s *ProfileKeyStore) Backend() storage.Backend {
	return s.backend
}

// Get returns the value of slot for profileID. A missing value yields
// ok == false and a nil error.
func (s *ProfileKeyStore) Get(ctx context.Context, profileID string, slot Slot) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := slotPath(profileID, slot)
	if err != nil {
		return nil, false, err
	}
	unlock := s.locks.lock(key)
	defer unlock()
	return s.get(key)
}

// Put overwrites the value of slot for profileID.
func (s *ProfileKeyStore) Put(ctx context.Context, profileID string, slot Slot, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := slotPath(profileID, slot)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()
	return s.put(key, value)
}

// Update runs fn with the current value of slot and stores what it returns,
// holding the slot lock throughout. If fn returns an error nothing is
// written.
func (s *ProfileKeyStore) Update(ctx context.Context, profileID string, slot Slot,
	fn func(current []byte, ok bool) ([]byte, error)) error {

	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := slotPath(profileID, slot)
	if err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()

	current, ok, err := s.get(key)
	if err != nil {
		return err
	}
	next, err := fn(current, ok)
	if err != nil {
		return err
	}
	return s.put(key, next)
}

// GetWrappedKey loads the wrapped master key record.
func (s *ProfileKeyStore) GetWrappedKey(ctx context.Context, profileID string) (*WrappedKeyRecord, bool, error) {
	data, ok, err := s.Get(ctx, profileID, SlotWrappedVaultKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	return decodeRecord(data)
}

// SetWrappedKey stores the wrapped master key record.
func (s *ProfileKeyStore) SetWrappedKey(ctx context.Context, profileID string, record *WrappedKeyRecord) error {
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	return s.Put(ctx, profileID, SlotWrappedVaultKey, data)
}

// GetUnwrapKey loads the unwrap key.
func (s *ProfileKeyStore) GetUnwrapKey(ctx context.Context, profileID string) (*UnwrapKey, bool, error) {
	data, ok, err := s.Get(ctx, profileID, SlotUnwrapKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	return decodeUnwrapKey(data)
}

// SetUnwrapKey stores the unwrap key.
func (s *ProfileKeyStore) SetUnwrapKey(ctx context.Context, profileID string, key *UnwrapKey) error {
	if key == nil {
		return vaulterr.InvalidInput(vaulterr.OpStore, "unwrap key is nil")
	}
	data, _ := key.MarshalBinary()
	defer zero(data)
	return s.Put(ctx, profileID, SlotUnwrapKey, data)
}

// lockProfile takes both slot locks of profileID in a fixed order.
func (s *ProfileKeyStore) lockProfile(profileID string) (recordKey, unwrapKey string, unlock func(), err error) {
	if recordKey, err = slotPath(profileID, SlotWrappedVaultKey); err != nil {
		return "", "", nil, err
	}
	if unwrapKey, err = slotPath(profileID, SlotUnwrapKey); err != nil {
		return "", "", nil, err
	}
	return recordKey, unwrapKey, s.locks.lockAll(recordKey, unwrapKey), nil
}

func (s *ProfileKeyStore) get(key string) ([]byte, bool, error) {
	data, err := s.backend.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, vaulterr.StorageUnavailable(vaulterr.OpStore, err)
	}
	return data, true, nil
}

func (s *ProfileKeyStore) put(key string, value []byte) error {
	if err := s.backend.Put(key, value, storage.DefaultOptions()); err != nil {
		return vaulterr.StorageUnavailable(vaulterr.OpStore, err)
	}
	return nil
}

func slotPath(profileID string, slot Slot) (string, error) {
	key, err := storage.SlotPath(profileID, string(slot))
	if err != nil {
		return "", vaulterr.InvalidInput(vaulterr.OpStore, "%v", err)
	}
	return key, nil
}

func encodeRecord(record *WrappedKeyRecord) ([]byte, error) {
	if record == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpStore, "record is nil")
	}
	if err := record.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpStore, err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*WrappedKeyRecord, bool, error) {
	var record WrappedKeyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, true, err
	}
	return &record, true, nil
}

func decodeUnwrapKey(data []byte) (*UnwrapKey, bool, error) {
	key := &UnwrapKey{}
	if err := key.UnmarshalBinary(data); err != nil {
		return nil, true, err
	}
	return key, true, nil
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockAll locks keys in sorted order and returns a function releasing them
// in reverse.
func (k *keyedMutex) lockAll(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		unlocks = append(unlocks, k.lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
