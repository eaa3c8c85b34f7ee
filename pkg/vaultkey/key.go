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

// Package vaultkey manages the per-profile vault master key.
//
// The master key is a random 256-bit AES-GCM key. It is persisted only in
// wrapped form: sealed under a separate 256-bit unwrap key. Unlocking reads
// both, opens the record and yields an opaque MasterKey handle whose raw
// bytes are never exposed.
//
// Both the wrapped record and the unwrap key live in the same ProfileKeyStore,
// so the unwrap key is protected only by storage isolation and by the
// passkey ceremony gate in Manager. Whether the unwrap key should instead be
// bound to authenticator-held material is an open decision for the system
// owner; this package keeps the observed layout.
package vaultkey

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// KeySize is the length of master and unwrap keys in bytes.
const KeySize = aead.KeySize

const redacted = "[REDACTED]"

// MasterKey is an AES-256-GCM key handle usable only for Encrypt and
// Decrypt. Encrypt refuses further use once the handle reaches its usage
// limits; the key must then be re-enrolled.
type MasterKey struct {
	cipher *aead.Cipher
}

// usageLimits caps encryptions through one MasterKey handle. Zero values
// select the aead defaults.
type usageLimits struct {
	invocations int64
	bytes       int64
}

func newMasterKey(raw []byte, rng rand.Resolver, limits usageLimits) (*MasterKey, error) {
	opts := []aead.Option{
		aead.WithUsageTracker(aead.NewUsageTracker(limits.invocations, limits.bytes)),
	}
	if rng != nil {
		opts = append(opts, aead.WithRand(rng))
	}
	c, err := aead.New(raw, opts...)
	if err != nil {
		return nil, err
	}
	return &MasterKey{cipher: c}, nil
}

// Encrypt seals plaintext under a fresh nonce. The result is nonce||ciphertext.
func (k *MasterKey) Encrypt(plaintext, ad []byte) ([]byte, error) {
	sealed, err := k.cipher.Seal(plaintext, ad)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEncrypt, err)
	}
	return sealed, nil
}

// Decrypt opens data produced by Encrypt.
func (k *MasterKey) Decrypt(sealed, ad []byte) ([]byte, error) {
	plaintext, err := k.cipher.Open(sealed, ad)
	if err != nil {
		if errors.Is(err, aead.ErrAuthentication) {
			return nil, vaulterr.Authentication(vaulterr.OpDecrypt)
		}
		return nil, vaulterr.New(vaulterr.OpDecrypt, err)
	}
	return plaintext, nil
}

func (k *MasterKey) String() string   { return "MasterKey(" + redacted + ")" }
func (k *MasterKey) GoString() string { return k.String() }

// MarshalJSON never emits key material.
func (k *MasterKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// UnwrapKey is the key that seals the master key at rest.
type UnwrapKey struct {
	b [KeySize]byte
}

// NewUnwrapKey draws a fresh key from rng, or from the system CSPRNG when rng
// is nil.
func NewUnwrapKey(rng rand.Resolver) (*UnwrapKey, error) {
	if rng == nil {
		var err error
		if rng, err = rand.NewResolver(rand.ModeSoftware); err != nil {
			return nil, err
		}
	}
	raw, err := rng.Rand(KeySize)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEnroll, fmt.Errorf("generate unwrap key: %w", err))
	}
	k := &UnwrapKey{}
	copy(k.b[:], raw)
	zero(raw)
	return k, nil
}

// MarshalBinary returns a copy of the key bytes for persistence.
func (k *UnwrapKey) MarshalBinary() ([]byte, error) {
	out := make([]byte, KeySize)
	copy(out, k.b[:])
	return out, nil
}

// UnmarshalBinary loads a persisted key.
func (k *UnwrapKey) UnmarshalBinary(data []byte) error {
	if len(data) != KeySize {
		return vaulterr.Format(vaulterr.OpUnwrap, "unwrap key is %d bytes, want %d", len(data), KeySize)
	}
	copy(k.b[:], data)
	return nil
}

// Destroy zeroes the key.
func (k *UnwrapKey) Destroy() {
	zero(k.b[:])
}

func (k *UnwrapKey) String() string   { return "UnwrapKey(" + redacted + ")" }
func (k *UnwrapKey) GoString() string { return k.String() }

// MarshalJSON never emits key material. Use MarshalBinary to persist.
func (k *UnwrapKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
