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

// Package kdf derives symmetric keys from passphrases.
//
// The KDFAdapter interface lets callers substitute the derivation, which the
// backup codec uses in tests to count how often a key is derived.
package kdf

import (
	"crypto"
	"errors"

	_ "crypto/sha256" // registers crypto.SHA256
	_ "crypto/sha512" // registers crypto.SHA512
)

// KDFAlgorithm names a derivation function. The value is written into
// backup archives.
type KDFAlgorithm string

// AlgorithmPBKDF2 is PBKDF2 from RFC 8018.
const AlgorithmPBKDF2 KDFAlgorithm = "PBKDF2"

func (a KDFAlgorithm) String() string {
	return string(a)
}

// KDFParams describes one derivation. Salt must be fresh per archive.
type KDFParams struct {
	Algorithm  KDFAlgorithm
	Salt       []byte
	Iterations int
	KeyLength  int // bytes
	Hash       crypto.Hash
}

// WithSalt returns a copy of p using salt.
func (p KDFParams) WithSalt(salt []byte) *KDFParams {
	p.Salt = salt
	return &p
}

// KDFAdapter derives keys for a single algorithm.
type KDFAdapter interface {
	DeriveKey(ikm []byte, params *KDFParams) ([]byte, error)
	Algorithm() KDFAlgorithm
	// ValidateParams rejects parameters the adapter would refuse to derive
	// with, without doing the work.
	ValidateParams(params *KDFParams) error
}

var (
	ErrInvalidSalt          = errors.New("kdf: salt missing or too short")
	ErrInvalidKeyLength     = errors.New("kdf: key length out of range")
	ErrInvalidIterations    = errors.New("kdf: iteration count too low")
	ErrInvalidHash          = errors.New("kdf: hash not allowed as prf")
	ErrInvalidIKM           = errors.New("kdf: empty passphrase")
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")
)

// DefaultParams returns the parameters used for backup archives, or nil for
// an unknown algorithm. The values are part of the archive format: changing
// them breaks decryption of existing files.
func DefaultParams(algorithm KDFAlgorithm) *KDFParams {
	if algorithm != AlgorithmPBKDF2 {
		return nil
	}
	return &KDFParams{
		Algorithm:  AlgorithmPBKDF2,
		Iterations: DefaultPBKDF2Iterations,
		KeyLength:  32,
		Hash:       crypto.SHA256,
	}
}
