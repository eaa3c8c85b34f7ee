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

import "errors"

var (
	// ErrNonceReuse is returned when a nonce is reused with the same key.
	// Reusing a GCM nonce breaks authentication and can leak the
	// authentication key, so the encryption is refused.
	ErrNonceReuse = errors.New("aead: nonce already used with this key")

	// ErrAuthentication is returned when the GCM tag does not verify. The
	// same error is returned for a wrong key, a modified ciphertext and a
	// modified nonce.
	ErrAuthentication = errors.New("aead: message authentication failed")

	// ErrInvalidKeySize is returned when a key is not KeySize bytes.
	ErrInvalidKeySize = errors.New("aead: invalid key size")

	// ErrInvalidNonceSize is returned when a nonce is not NonceSize bytes.
	ErrInvalidNonceSize = errors.New("aead: invalid nonce size")

	// ErrUsageLimit is returned when a key has reached its invocation or
	// byte limit and must be rotated.
	ErrUsageLimit = errors.New("aead: key usage limit exceeded")
)
