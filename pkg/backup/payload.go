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

// Package backup implements the passphrase-encrypted backup archive format.
//
// An archive is a JSON object:
//
//	{
//	  "v": 1,
//	  "alg": "AES-GCM",
//	  "kdf": "PBKDF2",
//	  "salt": "<base64url, 16 bytes>",
//	  "iv": "<base64url, 12 bytes>",
//	  "ciphertext": "<base64url, AES-256-GCM output including the tag>",
//	  "ts": "2025-01-02T03:04:05.678Z"
//	}
//
// The key is PBKDF2-HMAC-SHA256 over the UTF-8 passphrase with 310,000
// iterations. The plaintext is the JSON encoding of the caller's payload.
// Salt and IV are drawn fresh for every archive.
package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/encoding/base64url"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

const (
	// Version is the only archive version this package reads and writes.
	Version = 1

	// Algorithm is the cipher tag.
	Algorithm = aead.Algorithm

	// KDF is the key derivation tag.
	KDF = "PBKDF2"

	// SaltSize is the PBKDF2 salt length in bytes.
	SaltSize = 16

	// IVSize is the AES-GCM nonce length in bytes.
	IVSize = aead.NonceSize

	// TimestampLayout is RFC 3339 in UTC with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// EncryptedPayload is the on-disk archive.
type EncryptedPayload struct {
	V          int    `json:"v"`
	Alg        string `json:"alg"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	TS         string `json:"ts"`
}

// Timestamp parses TS. The timestamp is informational and not authenticated.
func (p *EncryptedPayload) Timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, p.TS)
}

// decoded holds the binary fields of a validated payload.
type decoded struct {
	salt       []byte
	iv         []byte
	ciphertext []byte
}

// validate checks the header and decodes the binary fields. It performs no
// key derivation.
func (p *EncryptedPayload) validate() (*decoded, error) {
	if p.V != Version {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "unsupported version %d", p.V)
	}
	if p.Alg != Algorithm {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "unsupported algorithm %q", p.Alg)
	}
	if p.KDF != KDF {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "unsupported kdf %q", p.KDF)
	}

	salt, err := base64url.DecodeLen(p.Salt, SaltSize)
	if err != nil {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "salt: %v", err)
	}
	iv, err := base64url.DecodeLen(p.IV, IVSize)
	if err != nil {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "iv: %v", err)
	}
	ciphertext, err := base64url.Decode(p.Ciphertext)
	if err != nil {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "ciphertext: %v", err)
	}
	if len(ciphertext) < aead.TagSize {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "ciphertext shorter than tag")
	}

	return &decoded{salt: salt, iv: iv, ciphertext: ciphertext}, nil
}

// Validate reports whether the archive header and encodings are well formed
// without attempting decryption.
func (p *EncryptedPayload) Validate() error {
	_, err := p.validate()
	return err
}

// Parse decodes an archive from JSON. Malformed JSON is ErrInvalidInput;
// header problems surface from Validate or Decrypt as ErrFormat.
func Parse(data []byte) (*EncryptedPayload, error) {
	var p EncryptedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpDecrypt, "malformed backup JSON: %v", err)
	}
	return &p, nil
}

// Marshal encodes p as indented JSON.
func Marshal(p *EncryptedPayload) ([]byte, error) {
	if p == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpEncrypt, "nil payload")
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: marshal: %w", err)
	}
	return data, nil
}

// DefaultFileName returns the suggested export file name for t.
func DefaultFileName(t time.Time) string {
	return "keybox-backup-" + t.UTC().Format("2006-01-02") + ".json"
}
