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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/passkey"
	"github.com/jeremyhahn/go-keybox/pkg/ratelimit"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/bolt"
	"github.com/jeremyhahn/go-keybox/pkg/storage/file"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

var testNow = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func signalFor(profile string) passkey.Signal {
	return passkey.Signal{ProfileID: profile, VerifiedAt: testNow}
}

func newTestManager(t *testing.T, backend storage.Backend, opts ...ManagerOption) *Manager {
	t.Helper()
	store, err := NewProfileKeyStore(backend)
	require.NoError(t, err)
	opts = append([]ManagerOption{WithClock(func() time.Time { return testNow })}, opts...)
	m, err := NewManager(store, opts...)
	require.NoError(t, err)
	return m
}

func TestManager_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryBackend())

	status, err := m.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusNotEnrolled, status)

	_, err = m.Unlock(ctx, "alice", signalFor("alice"))
	assert.ErrorIs(t, err, vaulterr.ErrNotEnrolled)
	assert.Equal(t, "no passkey configured on this device", vaulterr.UserMessage(err))

	enrolled, err := m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)

	status, err = m.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusEnrolled, status)

	unlocked, err := m.Unlock(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)

	sealed, err := enrolled.Encrypt([]byte("entry"), nil)
	require.NoError(t, err)
	plaintext, err := unlocked.Decrypt(sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("entry"), plaintext)

	status, err = m.Status(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusNotEnrolled, status)
}

func TestManager_ReEnrollReplacesKey(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryBackend())

	first, err := m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)
	sealed, err := first.Encrypt([]byte("old"), nil)
	require.NoError(t, err)

	_, err = m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)

	current, err := m.Unlock(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)
	_, err = current.Decrypt(sealed, nil)
	assert.ErrorIs(t, err, vaulterr.ErrAuthentication)
}

func TestManager_CeremonyRequired(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryBackend(), WithCeremonyMaxAge(time.Minute))

	_, err := m.Enroll(ctx, "alice", passkey.Signal{})
	assert.ErrorIs(t, err, vaulterr.ErrCeremonyRequired)

	_, err = m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)

	stale := passkey.Signal{ProfileID: "alice", VerifiedAt: testNow.Add(-time.Hour)}
	_, err = m.Unlock(ctx, "alice", stale)
	assert.ErrorIs(t, err, vaulterr.ErrCeremonyRequired)
	assert.Equal(t, "passkey verification required", vaulterr.UserMessage(err))

	_, err = m.Unlock(ctx, "alice", signalFor("bob"))
	assert.ErrorIs(t, err, vaulterr.ErrCeremonyRequired)
	_, err = m.Enroll(ctx, "bob", signalFor("alice"))
	assert.ErrorIs(t, err, vaulterr.ErrCeremonyRequired)
}

func TestManager_UnlockRateLimited(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.New(&ratelimit.Config{
		Enabled:           true,
		AttemptsPerMinute: 1,
		Burst:             2,
		Clock:             func() time.Time { return testNow },
	})
	t.Cleanup(limiter.Stop)

	m := newTestManager(t, storage.NewMemoryBackend(), WithLimiter(limiter))
	_, err := m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)
	other, err := NewUnwrapKey(nil)
	require.NoError(t, err)
	require.NoError(t, m.store.SetUnwrapKey(ctx, "alice", other))

	for i := 0; i < 2; i++ {
		_, err = m.Unlock(ctx, "alice", signalFor("alice"))
		require.ErrorIs(t, err, vaulterr.ErrAuthentication)
	}
	_, err = m.Unlock(ctx, "alice", signalFor("alice"))
	assert.ErrorIs(t, err, vaulterr.ErrRateLimited)
	assert.True(t, vaulterr.IsRetryable(err))

	// Successful unlocks do not use up the budget.
	_, err = m.Enroll(ctx, "bob", signalFor("bob"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = m.Unlock(ctx, "bob", signalFor("bob"))
		require.NoError(t, err)
	}
}

func TestManager_CorruptedSlots(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, m *Manager)
	}{
		{"wrong unwrap key", func(t *testing.T, m *Manager) {
			other, err := NewUnwrapKey(nil)
			require.NoError(t, err)
			require.NoError(t, m.store.SetUnwrapKey(context.Background(), "alice", other))
		}},
		{"truncated unwrap key", func(t *testing.T, m *Manager) {
			require.NoError(t, m.store.Put(context.Background(), "alice", SlotUnwrapKey, make([]byte, KeySize-1)))
		}},
		{"truncated record", func(t *testing.T, m *Manager) {
			data, ok, err := m.store.Get(context.Background(), "alice", SlotWrappedVaultKey)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, m.store.Put(context.Background(), "alice", SlotWrappedVaultKey, data[:len(data)/2]))
		}},
		{"unsupported record algorithm", func(t *testing.T, m *Manager) {
			data, _, err := m.store.Get(context.Background(), "alice", SlotWrappedVaultKey)
			require.NoError(t, err)
			var fields map[string]any
			require.NoError(t, json.Unmarshal(data, &fields))
			fields["alg"] = "AES-CBC"
			data, err = json.Marshal(fields)
			require.NoError(t, err)
			require.NoError(t, m.store.Put(context.Background(), "alice", SlotWrappedVaultKey, data))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, storage.NewMemoryBackend())
			_, err := m.Enroll(ctx, "alice", signalFor("alice"))
			require.NoError(t, err)

			tt.corrupt(t, m)

			_, err = m.Unlock(ctx, "alice", signalFor("alice"))
			assert.ErrorIs(t, err, vaulterr.ErrAuthentication)
			assert.NotErrorIs(t, err, vaulterr.ErrFormat)
			assert.Equal(t, "unable to unlock", vaulterr.UserMessage(err))
		})
	}
}

func TestManager_UsageLimits(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, storage.NewMemoryBackend(), WithUsageLimits(2, 0))

	enrolled, err := m.Enroll(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)
	unlocked, err := m.Unlock(ctx, "alice", signalFor("alice"))
	require.NoError(t, err)

	for _, mk := range []*MasterKey{enrolled, unlocked} {
		var sealed []byte
		for i := 0; i < 2; i++ {
			sealed, err = mk.Encrypt([]byte("entry"), nil)
			require.NoError(t, err)
		}
		_, err = mk.Encrypt([]byte("entry"), nil)
		assert.ErrorIs(t, err, aead.ErrUsageLimit)

		// Decrypt is not limited.
		plaintext, err := mk.Decrypt(sealed, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("entry"), plaintext)
	}
}

func TestManager_StorageUnavailable(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, brokenBackend{})

	_, err := m.Status(ctx, "alice")
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)

	_, err = m.Enroll(ctx, "alice", signalFor("alice"))
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)

	_, err = m.Unlock(ctx, "alice", signalFor("alice"))
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)
}

func TestManager_ConcurrentEnrollmentIsConsistent(t *testing.T) {
	backends := map[string]func(t *testing.T) storage.Backend{
		"memory": func(t *testing.T) storage.Backend { return storage.NewMemoryBackend() },
		"file": func(t *testing.T) storage.Backend {
			fs, err := file.New(t.TempDir())
			require.NoError(t, err)
			return fs
		},
		"bolt": func(t *testing.T) storage.Backend {
			db, err := bolt.Open(filepath.Join(t.TempDir(), "keys.db"), nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return db
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := newTestManager(t, newBackend(t))

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := m.Enroll(ctx, "alice", signalFor("alice"))
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			mk, err := m.Unlock(ctx, "alice", signalFor("alice"))
			require.NoError(t, err)
			sealed, err := mk.Encrypt([]byte("ok"), nil)
			require.NoError(t, err)
			_, err = mk.Decrypt(sealed, nil)
			assert.NoError(t, err)
		})
	}
}

func TestNewManager_NilStore(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}
