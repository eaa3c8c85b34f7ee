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

package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainBackend exposes only the Backend methods of a MemoryBackend.
type plainBackend struct {
	Backend
	failOn string
}

func (p *plainBackend) Put(key string, value []byte, opts *Options) error {
	if key == p.failOn {
		return errors.New("write failed")
	}
	return p.Backend.Put(key, value, opts)
}

func TestApply_Transactional(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put("old", []byte("x"), nil))

	atomic, err := Apply(backend, []Op{
		DeleteOp("old"),
		DeleteOp("never-existed"),
		PutOp("a", []byte("1")),
		PutOp("b", []byte("2")),
	})
	require.NoError(t, err)
	assert.True(t, atomic)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestApply_TransactionalRollback(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put("old", []byte("x"), nil))

	atomic, err := Apply(backend, []Op{
		DeleteOp("old"),
		PutOp("", []byte("bad key")),
	})
	assert.True(t, atomic)
	assert.ErrorIs(t, err, ErrInvalidKey)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, keys, "nothing applied")
}

func TestApply_Sequential(t *testing.T) {
	backend := &plainBackend{Backend: NewMemoryBackend(), failOn: "c"}
	require.NoError(t, backend.Put("old", []byte("x"), nil))

	atomic, err := Apply(backend, []Op{
		DeleteOp("old"),
		PutOp("a", []byte("1")),
		PutOp("c", []byte("3")),
		PutOp("d", []byte("4")),
	})
	assert.False(t, atomic)
	assert.Error(t, err)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys, "ops before the failure stay applied")
}

func TestReplacePrefix_Transactional(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put("p/old", []byte("x"), nil))
	require.NoError(t, backend.Put("p/a", []byte("stale"), nil))
	require.NoError(t, backend.Put("q/other", []byte("y"), nil))

	deleted, atomic, err := ReplacePrefix(backend, "p/", []Op{PutOp("p/a", []byte("fresh"))})
	require.NoError(t, err)
	assert.True(t, atomic)
	assert.Equal(t, 2, deleted)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a", "q/other"}, keys)

	value, err := backend.Get("p/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), value)
}

func TestReplacePrefix_TransactionalRollback(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put("p/old", []byte("x"), nil))

	deleted, atomic, err := ReplacePrefix(backend, "p/", []Op{PutOp("", []byte("bad key"))})
	assert.True(t, atomic)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Zero(t, deleted)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/old"}, keys, "nothing applied")
}

func TestReplacePrefix_Sequential(t *testing.T) {
	backend := &plainBackend{Backend: NewMemoryBackend()}
	require.NoError(t, backend.Put("p/old", []byte("x"), nil))

	deleted, atomic, err := ReplacePrefix(backend, "p/", []Op{PutOp("p/new", []byte("1"))})
	require.NoError(t, err)
	assert.False(t, atomic)
	assert.Equal(t, 1, deleted)

	keys, err := backend.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/new"}, keys)
}

func TestReplacePrefix_EmptyPrefix(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Put("keep", []byte("x"), nil))

	_, _, err := ReplacePrefix(backend, "", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)

	ok, err := backend.Exists("keep")
	require.NoError(t, err)
	assert.True(t, ok)
}
