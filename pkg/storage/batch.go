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
	"fmt"
)

// Op is a single write in a batch. A nil Value with Delete unset stores an
// empty value.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// PutOp returns an Op that stores value at key.
func PutOp(key string, value []byte) Op {
	return Op{Key: key, Value: value}
}

// DeleteOp returns an Op that removes key. Deleting a missing key is not an
// error inside a batch.
func DeleteOp(key string) Op {
	return Op{Key: key, Delete: true}
}

// Apply writes ops to backend in order. When the backend implements
// Transactional the batch is applied atomically and atomic is true.
// Otherwise ops are applied one at a time and a failure leaves the earlier
// ops in place.
func Apply(backend Backend, ops []Op) (atomic bool, err error) {
	if tb, ok := backend.(Transactional); ok {
		return true, tb.Update(func(tx Tx) error {
			for _, op := range ops {
				if err := applyOp(tx.Put, tx.Delete, op); err != nil {
					return err
				}
			}
			return nil
		})
	}

	put := func(key string, value []byte) error { return backend.Put(key, value, nil) }
	for _, op := range ops {
		if err := applyOp(put, backend.Delete, op); err != nil {
			return false, err
		}
	}
	return false, nil
}

// ReplacePrefix deletes every key under prefix and then applies ops. On a
// Transactional backend the prefix is listed inside the transaction, so a key
// written concurrently is either deleted or written after the replace
// commits. deleted is the number of keys removed.
func ReplacePrefix(backend Backend, prefix string, ops []Op) (deleted int, atomic bool, err error) {
	if prefix == "" {
		return 0, false, fmt.Errorf("%w: empty replace prefix", ErrInvalidKey)
	}

	if tb, ok := backend.(Transactional); ok {
		err := tb.Update(func(tx Tx) error {
			keys, err := tx.List(prefix)
			if err != nil {
				return err
			}
			for _, key := range keys {
				if err := applyOp(tx.Put, tx.Delete, DeleteOp(key)); err != nil {
					return err
				}
			}
			for _, op := range ops {
				if err := applyOp(tx.Put, tx.Delete, op); err != nil {
					return err
				}
			}
			deleted = len(keys)
			return nil
		})
		if err != nil {
			return 0, true, err
		}
		return deleted, true, nil
	}

	keys, err := backend.List(prefix)
	if err != nil {
		return 0, false, err
	}
	put := func(key string, value []byte) error { return backend.Put(key, value, nil) }
	for _, key := range keys {
		if err := applyOp(put, backend.Delete, DeleteOp(key)); err != nil {
			return deleted, false, err
		}
		deleted++
	}
	for _, op := range ops {
		if err := applyOp(put, backend.Delete, op); err != nil {
			return deleted, false, err
		}
	}
	return deleted, false, nil
}

func applyOp(put func(string, []byte) error, del func(string) error, op Op) error {
	if op.Delete {
		if err := del(op.Key); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return nil
	}
	return put(op.Key, op.Value)
}
