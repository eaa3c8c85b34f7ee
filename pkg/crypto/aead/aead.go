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

// Package aead implements AES-256-GCM with internally generated nonces.
//
// Callers never supply a nonce for encryption. Every call to Encrypt or Seal
// draws a fresh 96-bit nonce from the configured rand.Resolver, records it
// in a NonceTracker and refuses to proceed on a repeat.
//
//	c, _ := aead.New(key)
//	sealed, _ := c.Seal(plaintext, nil)
//	plaintext, _ = c.Open(sealed, nil)
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"runtime"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"golang.org/x/sys/cpu"
)

// Algorithm is the algorithm tag written to persisted records.
const Algorithm = "AES-GCM"

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// NonceSize is the GCM standard nonce length in bytes.
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// Cipher is an AES-256-GCM cipher bound to one key. It is safe for
// concurrent use.
type Cipher struct {
	gcm    cipher.AEAD
	rng    rand.Resolver
	nonces *NonceTracker
	usage  *UsageTracker
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithRand sets the nonce source. Defaults to the software resolver.
func WithRand(rng rand.Resolver) Option {
	return func(c *Cipher) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// WithUsageTracker enforces per-key limits on Encrypt and Seal. Pass the
// same tracker to every Cipher built from one key.
func WithUsageTracker(u *UsageTracker) Option {
	return func(c *Cipher) {
		c.usage = u
	}
}

// New returns a Cipher for a KeySize-byte key. The key bytes are copied
// into the AES key schedule, so the caller may zero key afterwards.
func New(key []byte, opts ...Option) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKeySize, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}

	c := &Cipher{
		gcm:    gcm,
		nonces: NewNonceTracker(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng, _ = rand.NewResolver(rand.ModeSoftware)
	}
	return c, nil
}

// Encrypt seals plaintext with additional data ad under a fresh nonce and
// returns the nonce and the ciphertext (including the tag) separately.
func (c *Cipher) Encrypt(plaintext, ad []byte) (nonce, ciphertext []byte, err error) {
	if c.usage != nil {
		if err := c.usage.Reserve(len(plaintext)); err != nil {
			return nil, nil, err
		}
	}

	nonce, err = c.rng.Rand(NonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	if err := c.nonces.Record(nonce); err != nil {
		return nil, nil, err
	}

	return nonce, c.gcm.Seal(nil, nonce, plaintext, ad), nil
}

// Decrypt opens ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidNonceSize, len(nonce), NonceSize)
	}
	if len(ciphertext) < TagSize {
		return nil, ErrAuthentication
	}

	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Seal is Encrypt with the nonce prepended to the returned ciphertext.
func (c *Cipher) Seal(plaintext, ad []byte) ([]byte, error) {
	nonce, ciphertext, err := c.Encrypt(plaintext, ad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrAuthentication
	}
	return c.Decrypt(sealed[:NonceSize], sealed[NonceSize:], ad)
}

// HasAESNI returns true if the CPU has hardware AES support.
//
// Supported architectures:
//   - amd64: Checks X86.HasAES
//   - arm64: Checks ARM64.HasAES
//   - Other architectures return false
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}
