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

package kdf

import (
	"crypto"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultPBKDF2Iterations is the iteration count for PBKDF2-HMAC-SHA256.
	DefaultPBKDF2Iterations = 310000

	// MinPBKDF2Iterations is the lowest count accepted from an archive header
	// or a caller.
	MinPBKDF2Iterations = 100000

	// MinPBKDF2SaltLength is the minimum accepted salt length in bytes
	MinPBKDF2SaltLength = 16

	// MaxPBKDF2KeyLength bounds the output to one block of the largest
	// supported PRF.
	MaxPBKDF2KeyLength = 64
)

// pbkdf2Hashes lists the PRFs accepted by PBKDF2Adapter.
var pbkdf2Hashes = map[crypto.Hash]bool{
	crypto.SHA256: true,
	crypto.SHA512: true,
}

// PBKDF2Adapter derives keys with PBKDF2-HMAC. It is stateless and safe for
// concurrent use.
type PBKDF2Adapter struct{}

var _ KDFAdapter = (*PBKDF2Adapter)(nil)

// NewPBKDF2Adapter creates a new PBKDF2 adapter
func NewPBKDF2Adapter() *PBKDF2Adapter {
	return &PBKDF2Adapter{}
}

// DeriveKey derives params.KeyLength bytes from the passphrase ikm.
func (p *PBKDF2Adapter) DeriveKey(ikm []byte, params *KDFParams) ([]byte, error) {
	if err := p.ValidateParams(params); err != nil {
		return nil, err
	}
	if len(ikm) == 0 {
		return nil, ErrInvalidIKM
	}
	return pbkdf2.Key(ikm, params.Salt, params.Iterations, params.KeyLength, params.Hash.New), nil
}

// Algorithm returns the KDF algorithm
func (p *PBKDF2Adapter) Algorithm() KDFAlgorithm {
	return AlgorithmPBKDF2
}

// ValidateParams checks params against the PBKDF2 policy.
func (p *PBKDF2Adapter) ValidateParams(params *KDFParams) error {
	switch {
	case params == nil:
		return fmt.Errorf("%w: params are nil", ErrInvalidKeyLength)
	case params.Algorithm != AlgorithmPBKDF2:
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, params.Algorithm)
	case params.KeyLength <= 0 || params.KeyLength > MaxPBKDF2KeyLength:
		return fmt.Errorf("%w: %d bytes", ErrInvalidKeyLength, params.KeyLength)
	case len(params.Salt) < MinPBKDF2SaltLength:
		return fmt.Errorf("%w: %d bytes, need %d", ErrInvalidSalt, len(params.Salt), MinPBKDF2SaltLength)
	case params.Iterations < MinPBKDF2Iterations:
		return fmt.Errorf("%w: %d, need %d", ErrInvalidIterations, params.Iterations, MinPBKDF2Iterations)
	case !pbkdf2Hashes[params.Hash] || !params.Hash.Available():
		return ErrInvalidHash
	}
	return nil
}
