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

package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/file"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

func newStore(t *testing.T, backend storage.Backend) *Store {
	t.Helper()
	s, err := New(backend)
	require.NoError(t, err)
	return s
}

func TestEntry_ID(t *testing.T) {
	id, ok := Entry{"id": "a"}.ID()
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	for _, e := range []Entry{{}, {"id": ""}, {"id": 7}, {"id": nil}} {
		_, ok := e.ID()
		assert.False(t, ok)
	}
}

func TestStore_PutGetList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryBackend())

	require.NoError(t, s.Put(ctx, "alice", Entry{"id": "b/2", "title": "two", "userId": "mallory"}))
	require.NoError(t, s.Put(ctx, "alice", Entry{"id": "a", "title": "one", "n": 3}))
	require.NoError(t, s.Put(ctx, "bob", Entry{"id": "a", "title": "bob's"}))

	got, ok, err := s.Get(ctx, "alice", "b/2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", got["title"])
	assert.Equal(t, "alice", got["userId"])

	entries, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "alice", e["userId"])
	}

	one, _, err := s.Get(ctx, "alice", "a")
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), one["n"])

	_, ok, err = s.Get(ctx, "alice", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryBackend())

	require.NoError(t, s.Put(ctx, "alice", Entry{"id": "a"}))
	require.NoError(t, s.Delete(ctx, "alice", "a"))
	require.NoError(t, s.Delete(ctx, "alice", "a"))

	entries, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Commit(t *testing.T) {
	ctx := context.Background()

	backends := map[string]storage.Backend{
		"memory": storage.NewMemoryBackend(),
	}
	fs, err := file.New(t.TempDir())
	require.NoError(t, err)
	backends["file"] = fs

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, backend)
			require.NoError(t, s.Put(ctx, "alice", Entry{"id": "old"}))
			require.NoError(t, s.Put(ctx, "alice", Entry{"id": "keep", "v": "1"}))

			atomic, err := s.Commit(ctx, "alice",
				[]string{"old", "keep"},
				[]Entry{{"id": "keep", "v": "2"}, {"id": "new"}})
			require.NoError(t, err)
			assert.Equal(t, name == "memory", atomic)
			assert.Equal(t, name == "memory", s.Transactional())

			entries, err := s.List(ctx, "alice")
			require.NoError(t, err)
			ids := map[string]Entry{}
			for _, e := range entries {
				id, _ := e.ID()
				ids[id] = e
			}
			assert.Len(t, ids, 2)
			assert.Equal(t, "2", ids["keep"]["v"])
			assert.Contains(t, ids, "new")
		})
	}
}

func TestStore_Replace(t *testing.T) {
	ctx := context.Background()

	backends := map[string]storage.Backend{
		"memory": storage.NewMemoryBackend(),
	}
	fs, err := file.New(t.TempDir())
	require.NoError(t, err)
	backends["file"] = fs

	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, backend)
			require.NoError(t, s.Put(ctx, "alice", Entry{"id": "old"}))
			require.NoError(t, s.Put(ctx, "alice", Entry{"id": "keep", "v": "1"}))
			require.NoError(t, s.Put(ctx, "bob", Entry{"id": "old"}))

			deleted, atomic, err := s.Replace(ctx, "alice", []Entry{{"id": "keep", "v": "2"}, {"id": "new"}})
			require.NoError(t, err)
			assert.Equal(t, 2, deleted)
			assert.Equal(t, name == "memory", atomic)

			entries, err := s.List(ctx, "alice")
			require.NoError(t, err)
			got := map[string]Entry{}
			for _, e := range entries {
				id, _ := e.ID()
				got[id] = e
			}
			assert.Len(t, got, 2)
			assert.Equal(t, "2", got["keep"]["v"])
			assert.Contains(t, got, "new")

			bob, err := s.List(ctx, "bob")
			require.NoError(t, err)
			assert.Len(t, bob, 1)
		})
	}
}

func TestStore_ReplaceRejectsMissingID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryBackend())
	require.NoError(t, s.Put(ctx, "alice", Entry{"id": "keep"}))

	_, _, err := s.Replace(ctx, "alice", []Entry{{"title": "no id"}})
	assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)

	entries, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_CommitRejectsMissingID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, storage.NewMemoryBackend())

	_, err := s.Commit(ctx, "alice", nil, []Entry{{"id": "a"}, {"title": "no id"}})
	assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)

	entries, err := s.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_InvalidProfile(t *testing.T) {
	s := newStore(t, storage.NewMemoryBackend())
	_, err := s.List(context.Background(), "../etc")
	assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)
}

type failingBackend struct {
	storage.Backend
}

func (failingBackend) List(string) ([]string, error) { return nil, errors.New("io error") }

func TestStore_StorageUnavailable(t *testing.T) {
	s := newStore(t, failingBackend{})
	_, err := s.List(context.Background(), "alice")
	assert.ErrorIs(t, err, vaulterr.ErrStorageUnavailable)
}

func TestStore_CorruptDocument(t *testing.T) {
	backend := storage.NewMemoryBackend()
	key, err := storage.EntryPath("alice", "a")
	require.NoError(t, err)
	require.NoError(t, backend.Put(key, []byte("[1,2]"), nil))

	s := newStore(t, backend)
	_, err = s.List(context.Background(), "alice")
	assert.ErrorIs(t, err, vaulterr.ErrFormat)
}
