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

package vaultkey

import (
	"errors"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Wrap seals masterKey under unwrapKey with a fresh IV. masterKey is not
// retained.
func Wrap(masterKey []byte, unwrapKey *UnwrapKey, rng rand.Resolver) (*WrappedKeyRecord, error) {
	return wrapAt(masterKey, unwrapKey, rng, time.Now())
}

func wrapAt(masterKey []byte, unwrapKey *UnwrapKey, rng rand.Resolver, now time.Time) (*WrappedKeyRecord, error) {
	if len(masterKey) != KeySize {
		return nil, vaulterr.InvalidInput(vaulterr.OpWrap, "master key is %d bytes, want %d", len(masterKey), KeySize)
	}
	if unwrapKey == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpWrap, "unwrap key is nil")
	}

	opts := []aead.Option{}
	if rng != nil {
		opts = append(opts, aead.WithRand(rng))
	}
	c, err := aead.New(unwrapKey.b[:], opts...)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpWrap, err)
	}
	iv, wrapped, err := c.Encrypt(masterKey, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpWrap, err)
	}

	return &WrappedKeyRecord{
		WrappedKey: wrapped,
		IV:         iv,
		Alg:        Algorithm,
		CreatedAt:  now.UTC().Truncate(time.Millisecond),
	}, nil
}

// Unwrap opens record with unwrapKey and returns the master key handle. The
// intermediate plaintext is zeroed before returning.
func Unwrap(record *WrappedKeyRecord, unwrapKey *UnwrapKey) (*MasterKey, error) {
	return unwrap(record, unwrapKey, nil, usageLimits{})
}

func unwrap(record *WrappedKeyRecord, unwrapKey *UnwrapKey, rng rand.Resolver, limits usageLimits) (*MasterKey, error) {
	if record == nil || unwrapKey == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpUnwrap, "record and unwrap key are required")
	}
	if err := record.validate(); err != nil {
		return nil, err
	}

	c, err := aead.New(unwrapKey.b[:])
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpUnwrap, err)
	}
	raw, err := c.Decrypt(record.IV, record.WrappedKey, nil)
	if err != nil {
		if errors.Is(err, aead.ErrAuthentication) {
			return nil, vaulterr.Authentication(vaulterr.OpUnwrap)
		}
		return nil, vaulterr.New(vaulterr.OpUnwrap, err)
	}
	defer zero(raw)

	mk, err := newMasterKey(raw, rng, limits)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpUnwrap, err)
	}
	return mk, nil
}
