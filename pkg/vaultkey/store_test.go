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
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

var errDisk = errors.New("disk on fire")

// brokenBackend fails every operation.
type brokenBackend struct {
	storage.Backend
}

func (brokenBackend) Get(string) ([]byte, error)                 { return nil, errDisk }
func (brokenBackend) Put(string, []byte, *storage.Options) error { return errDisk }
func (brokenBackend) Exists(string) (bool, error)                { return false, errDisk }

func newTestStore(t *testing.T) *ProfileKeyStore {
	t.Helper()
	store, err := NewProfileKeyStore(storage.NewMemoryBackend())
	require.NoError(t, err)
	return store
}

func TestProfileKeyStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	value, ok, err := store.Get(context.Background(), "alice", SlotUnwrapKey)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	record, ok, err := store.GetWrappedKey(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, record)
}

func TestProfileKeyStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "alice", SlotUnwrapKey, []byte("one")))
	require.NoError(t, store.Put(ctx, "alice", SlotUnwrapKey, []byte("two")))

	value, ok, err := store.Get(ctx, "alice", SlotUnwrapKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("two"), value)

	exists, err := store.Backend().Exists("profiles/alice/unwrapKey")
	require.NoError(t, err)
	assert.True(t, exists)

	_, ok, err = store.Get(ctx, "bob", SlotUnwrapKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProfileKeyStore_TypedSlots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)
	record, err := Wrap(randomKey(t), unwrapKey, nil)
	require.NoError(t, err)

	require.NoError(t, store.SetUnwrapKey(ctx, "alice", unwrapKey))
	require.NoError(t, store.SetWrappedKey(ctx, "alice", record))

	gotKey, ok, err := store.GetUnwrapKey(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	gotRecord, ok, err := store.GetWrappedKey(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = Unwrap(gotRecord, gotKey)
	assert.NoError(t, err)

	assert.ErrorIs(t, store.SetWrappedKey(ctx, "alice", nil), vaulterr.ErrInvalidInput)
	assert.ErrorIs(t, store.SetUnwrapKey(ctx, "alice", nil), vaulterr.ErrInvalidInput)
}

func TestProfileKeyStore_CorruptSlot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Put(ctx, "alice", SlotWrappedVaultKey, []byte("{")))
	require.NoError(t, store.Put(ctx, "alice", SlotUnwrapKey, []byte("short")))

	_, _, err := store.GetWrappedKey(ctx, "alice")
	assert.ErrorIs(t, err, vaulterr.ErrFormat)
	_, _, err = store.GetUnwrapKey(ctx, "alice")
	assert.ErrorIs(t, err, vaulterr.ErrFormat)
}

func TestProfileKeyStore_InvalidProfile(t *testing.T) {
	store := newTestStore(t)

	for _, profile := range []string{"", "..", "a/b", "alice\x00"} {
		_, _, err := store.Get(context.Background(), profile, SlotUnwrapKey)
		assert.ErrorIs(t, err, vaulterr.ErrInvalidInput, profile)
	}
}

func TestProfileKeyStore_StorageUnavailable(t *testing.T) {
	store, err := NewProfileKeyStore(brokenBackend{})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Get(ctx, "alice", SlotUnwrapKey)
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, vaulterr.IsRetryable(err))

	err = store.Put(ctx, "alice", SlotUnwrapKey, []byte("x"))
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)
}

func TestProfileKeyStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := store.Get(ctx, "alice", SlotUnwrapKey)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Put(ctx, "alice", SlotUnwrapKey, nil), context.Canceled)
}

func TestProfileKeyStore_UpdateIsLinearised(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				err := store.Update(ctx, "alice", SlotWrappedVaultKey, func(cur []byte, ok bool) ([]byte, error) {
					var n uint64
					if ok {
						n = binary.BigEndian.Uint64(cur)
					}
					return binary.BigEndian.AppendUint64(nil, n+1), nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	value, ok, err := store.Get(ctx, "alice", SlotWrappedVaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(workers*rounds), binary.BigEndian.Uint64(value))
	assert.Empty(t, store.locks.locks)
}

func TestProfileKeyStore_UpdateAbort(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	abort := errors.New("abort")

	err := store.Update(ctx, "alice", SlotUnwrapKey, func([]byte, bool) ([]byte, error) {
		return nil, abort
	})
	assert.ErrorIs(t, err, abort)

	_, ok, err := store.Get(ctx, "alice", SlotUnwrapKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyedMutex_LockAllDeduplicates(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.lockAll("b", "a", "b")
	assert.Len(t, k.locks, 2)
	unlock()
	assert.Empty(t, k.locks)
}
