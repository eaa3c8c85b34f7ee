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
	"sync/atomic"
)

const (
	// DefaultInvocationLimit is the maximum number of encryptions under one
	// key with random 96-bit nonces (NIST SP 800-38D, section 8.3).
	DefaultInvocationLimit = 1 << 32

	// DefaultBytesLimit caps the total plaintext encrypted under one key.
	DefaultBytesLimit = 64 * 1024 * 1024 * 1024
)

// UsageTracker counts encryptions and plaintext bytes under a single key and
// refuses further use once either limit is reached.
type UsageTracker struct {
	invocations atomic.Int64
	bytes       atomic.Int64

	invocationLimit int64
	bytesLimit      int64
}

// NewUsageTracker returns a tracker with the given limits. A zero limit
// selects the default.
func NewUsageTracker(invocationLimit, bytesLimit int64) *UsageTracker {
	if invocationLimit <= 0 {
		invocationLimit = DefaultInvocationLimit
	}
	if bytesLimit <= 0 {
		bytesLimit = DefaultBytesLimit
	}
	return &UsageTracker{
		invocationLimit: invocationLimit,
		bytesLimit:      bytesLimit,
	}
}

// Reserve accounts for one encryption of n plaintext bytes. Nothing is
// counted when the reservation would exceed a limit.
func (u *UsageTracker) Reserve(n int) error {
	if inv := u.invocations.Add(1); inv > u.invocationLimit {
		u.invocations.Add(-1)
		return fmt.Errorf("%w: %d invocations", ErrUsageLimit, u.invocationLimit)
	}
	if total := u.bytes.Add(int64(n)); total > u.bytesLimit {
		u.bytes.Add(-int64(n))
		u.invocations.Add(-1)
		return fmt.Errorf("%w: %d bytes", ErrUsageLimit, u.bytesLimit)
	}
	return nil
}
