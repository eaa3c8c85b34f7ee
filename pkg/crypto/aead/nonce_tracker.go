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

package aead

import (
	"fmt"
	"sync"
)

// NonceTracker remembers every nonce issued under one key and rejects a
// repeat. Memory grows with each encryption; keys that seal many messages
// should be rotated, see UsageTracker.
type NonceTracker struct {
	mu   sync.Mutex
	seen map[[NonceSize]byte]struct{}
}

// NewNonceTracker returns an empty tracker.
func NewNonceTracker() *NonceTracker {
	return &NonceTracker{seen: make(map[[NonceSize]byte]struct{})}
}

// Record adds nonce to the set. It returns ErrNonceReuse if nonce was
// recorded before and ErrInvalidNonceSize if it is not NonceSize bytes.
func (nt *NonceTracker) Record(nonce []byte) error {
	var k [NonceSize]byte
	if len(nonce) != len(k) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidNonceSize, len(nonce), NonceSize)
	}
	copy(k[:], nonce)

	nt.mu.Lock()
	defer nt.mu.Unlock()
	if _, dup := nt.seen[k]; dup {
		return ErrNonceReuse
	}
	nt.seen[k] = struct{}{}
	return nil
}
