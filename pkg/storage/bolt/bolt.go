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

// Package bolt provides a storage.Transactional backend on top of a single
// bbolt database file. All keys live in one bucket; prefix listing uses a
// cursor seek.
package bolt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"go.etcd.io/bbolt"
)

// DefaultTimeout bounds how long Open waits for the database file lock.
const DefaultTimeout = 5 * time.Second

var bucketName = []byte("keybox")

// Options configures Open.
type Options struct {
	// Timeout is how long to wait for the file lock. Zero uses DefaultTimeout.
	Timeout time.Duration

	// ReadOnly opens the database without write access.
	ReadOnly bool
}

// Store is a bbolt backed storage.Transactional.
type Store struct {
	db   *bbolt.DB
	path string
}

var _ storage.Transactional = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, opts *Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt storage: path cannot be empty")
	}
	if opts == nil {
		opts = &Options{}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("bolt storage: failed to create directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout:  timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt storage: failed to open %s: %w", path, err)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketName)
			return err
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bolt storage: failed to create bucket: %w", err)
		}
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Get retrieves the value for the given key.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.view(func(tx storage.Tx) error {
		v, err := tx.Get(key)
		value = v
		return err
	})
	return value, err
}

// Put stores the value for the given key.
func (s *Store) Put(key string, value []byte, _ *storage.Options) error {
	return s.Update(func(tx storage.Tx) error {
		return tx.Put(key, value)
	})
}

// Delete removes the key and its value from storage.
func (s *Store) Delete(key string) error {
	return s.Update(func(tx storage.Tx) error {
		return tx.Delete(key)
	})
}

// List returns all keys with the given prefix in sorted order.
func (s *Store) List(prefix string) ([]string, error) {
	var keys []string
	err := s.view(func(tx storage.Tx) error {
		k, err := tx.List(prefix)
		keys = k
		return err
	})
	return keys, err
}

// Exists checks if a key exists in storage.
func (s *Store) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update runs fn in a read-write bbolt transaction. The transaction commits
// only if fn returns nil.
func (s *Store) Update(fn func(tx storage.Tx) error) error {
	err := s.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("bolt storage: bucket %s missing", bucketName)
		}
		return fn(&boltTx{bucket: b})
	})
	return translate(err)
}

func (s *Store) view(fn func(tx storage.Tx) error) error {
	err := s.db.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket(bucketName)
		if b == nil {
			return storage.ErrNotFound
		}
		return fn(&boltTx{bucket: b})
	})
	return translate(err)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func translate(err error) error {
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return storage.ErrClosed
	}
	return err
}

type boltTx struct {
	bucket *bbolt.Bucket
}

// lookup distinguishes a missing key from a zero-length value.
func (t *boltTx) lookup(key string) ([]byte, bool) {
	k, v := t.bucket.Cursor().Seek([]byte(key))
	if k == nil || string(k) != key {
		return nil, false
	}
	return v, true
}

func (t *boltTx) Get(key string) ([]byte, error) {
	v, ok := t.lookup(key)
	if !ok {
		return nil, storage.ErrNotFound
	}
	// v is only valid for the life of the transaction.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTx) Put(key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}
	if value == nil {
		value = []byte{}
	}
	return t.bucket.Put([]byte(key), value)
}

func (t *boltTx) Delete(key string) error {
	if _, ok := t.lookup(key); !ok {
		return storage.ErrNotFound
	}
	return t.bucket.Delete([]byte(key))
}

func (t *boltTx) List(prefix string) ([]string, error) {
	keys := make([]string, 0)
	c := t.bucket.Cursor()
	p := []byte(prefix)
	for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys, nil
}
