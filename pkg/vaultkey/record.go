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
	"encoding/json"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/encoding/base64url"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Algorithm is the only wrapping algorithm.
const Algorithm = aead.Algorithm

// WrappedKeyRecord is the persisted, wrapped form of a master key.
type WrappedKeyRecord struct {
	WrappedKey []byte
	IV         []byte
	Alg        string
	CreatedAt  time.Time
}

type recordJSON struct {
	WrappedKey string `json:"wrappedKey"`
	IV         string `json:"iv"`
	Alg        string `json:"alg"`
	CreatedAt  int64  `json:"createdAt"`
}

// MarshalJSON encodes the record with base64url binary fields and a unix
// millisecond timestamp.
func (r WrappedKeyRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		WrappedKey: base64url.Encode(r.WrappedKey),
		IV:         base64url.Encode(r.IV),
		Alg:        r.Alg,
		CreatedAt:  r.CreatedAt.UnixMilli(),
	})
}

// UnmarshalJSON decodes and validates a persisted record.
func (r *WrappedKeyRecord) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return vaulterr.Format(vaulterr.OpUnwrap, "wrapped key record: %v", err)
	}
	wrapped, err := base64url.Decode(raw.WrappedKey)
	if err != nil {
		return vaulterr.Format(vaulterr.OpUnwrap, "wrappedKey: %v", err)
	}
	iv, err := base64url.Decode(raw.IV)
	if err != nil {
		return vaulterr.Format(vaulterr.OpUnwrap, "iv: %v", err)
	}
	*r = WrappedKeyRecord{
		WrappedKey: wrapped,
		IV:         iv,
		Alg:        raw.Alg,
		CreatedAt:  time.UnixMilli(raw.CreatedAt).UTC(),
	}
	return r.validate()
}

func (r *WrappedKeyRecord) validate() error {
	if r.Alg != Algorithm {
		return vaulterr.Format(vaulterr.OpUnwrap, "unsupported algorithm %q", r.Alg)
	}
	if len(r.IV) != aead.NonceSize {
		return vaulterr.Format(vaulterr.OpUnwrap, "iv is %d bytes, want %d", len(r.IV), aead.NonceSize)
	}
	if len(r.WrappedKey) != KeySize+aead.TagSize {
		return vaulterr.Format(vaulterr.OpUnwrap, "wrapped key is %d bytes, want %d",
			len(r.WrappedKey), KeySize+aead.TagSize)
	}
	return nil
}
