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
	"sort"
	"strings"
	"sync"
)

// MemoryBackend provides an in-memory storage implementation.
// This is useful for testing and ephemeral storage needs.
// Thread-safe using a read-write mutex.
type MemoryBackend struct {
	data   map[string][]byte
	mu     sync.RWMutex
	closed bool
}

var _ Transactional = (*MemoryBackend)(nil)

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string][]byte),
	}
}

// Get retrieves the value for the given key.
func (m *MemoryBackend) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	value, exists := m.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

// Put stores the value for the given key.
func (m *MemoryBackend) Put(key string, value []byte, opts *Options) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.data[key] = cloneBytes(value)
	return nil
}

// Delete removes the key and its value from storage.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if _, exists := m.data[key]; !exists {
		return ErrNotFound
	}

	delete(m.data, key)
	return nil
}

// List returns all keys with the given prefix.
func (m *MemoryBackend) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	return listKeys(m.data, prefix), nil
}

// Exists checks if a key exists in storage.
func (m *MemoryBackend) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	_, exists := m.data[key]
	return exists, nil
}

// Update runs fn against a private overlay of the data and swaps it in only
// if fn succeeds. Writers are serialised for the duration of fn.
func (m *MemoryBackend) Update(fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	tx := &memoryTx{
		base:    m.data,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for key := range tx.deletes {
		delete(m.data, key)
	}
	for key, value := range tx.writes {
		m.data[key] = value
	}
	return nil
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.data = nil
	return nil
}

type memoryTx struct {
	base    map[string][]byte
	writes  map[string][]byte
	deletes map[string]struct{}
}

func (tx *memoryTx) Get(key string) ([]byte, error) {
	if v, ok := tx.writes[key]; ok {
		return cloneBytes(v), nil
	}
	if _, ok := tx.deletes[key]; ok {
		return nil, ErrNotFound
	}
	v, ok := tx.base[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(v), nil
}

func (tx *memoryTx) Put(key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	delete(tx.deletes, key)
	tx.writes[key] = cloneBytes(value)
	return nil
}

func (tx *memoryTx) Delete(key string) error {
	if _, err := tx.Get(key); err != nil {
		return err
	}
	delete(tx.writes, key)
	if _, ok := tx.base[key]; ok {
		tx.deletes[key] = struct{}{}
	}
	return nil
}

func (tx *memoryTx) List(prefix string) ([]string, error) {
	merged := make(map[string][]byte, len(tx.base)+len(tx.writes))
	for k, v := range tx.base {
		if _, deleted := tx.deletes[k]; !deleted {
			merged[k] = v
		}
	}
	for k, v := range tx.writes {
		merged[k] = v
	}
	return listKeys(merged, prefix), nil
}

func listKeys(data map[string][]byte, prefix string) []string {
	keys := make([]string, 0)
	for key := range data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
