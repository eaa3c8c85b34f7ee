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

package backup

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/adapters/kdf"
	"github.com/jeremyhahn/go-keybox/pkg/adapters/logger"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/aead"
	"github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/encoding/base64url"
	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// Codec encrypts and decrypts backup archives. A Codec holds no per-call
// state and is safe for concurrent use.
type Codec struct {
	kdf    kdf.KDFAdapter
	params *kdf.KDFParams
	rng    rand.Resolver
	now    func() time.Time
	logger logger.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithKDF replaces the key derivation adapter. The parameters stay fixed by
// the archive format.
func WithKDF(adapter kdf.KDFAdapter) Option {
	return func(c *Codec) {
		if adapter != nil {
			c.kdf = adapter
		}
	}
}

// WithRand sets the source for salts and IVs.
func WithRand(rng rand.Resolver) Option {
	return func(c *Codec) {
		if rng != nil {
			c.rng = rng
		}
	}
}

// WithClock sets the clock used for the ts field.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCodec returns a Codec using PBKDF2-HMAC-SHA256 and the software RNG
// unless overridden.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		kdf:    kdf.NewPBKDF2Adapter(),
		params: kdf.DefaultParams(kdf.AlgorithmPBKDF2),
		now:    time.Now,
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng, _ = rand.NewResolver(rand.ModeSoftware)
	}
	return c
}

// Encrypt serialises payload to JSON and seals it under passphrase.
func (c *Codec) Encrypt(payload any, passphrase string) (_ *EncryptedPayload, err error) {
	done := metrics.Track(metrics.OpEncrypt, "")
	defer func() { done(err) }()

	if passphrase == "" {
		return nil, vaulterr.InvalidInput(vaulterr.OpEncrypt, "passphrase is empty")
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpEncrypt, "payload is not JSON serialisable: %v", err)
	}

	salt, err := c.rng.Rand(SaltSize)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEncrypt, err)
	}

	cipher, err := c.deriveCipher(vaulterr.OpEncrypt, passphrase, salt)
	if err != nil {
		return nil, err
	}

	iv, ciphertext, err := cipher.Encrypt(plaintext, nil)
	if err != nil {
		return nil, vaulterr.New(vaulterr.OpEncrypt, err)
	}

	c.logger.Debug("backup encrypted",
		logger.Op(vaulterr.OpEncrypt),
		logger.Int("plaintext_bytes", len(plaintext)))

	return &EncryptedPayload{
		V:          Version,
		Alg:        Algorithm,
		KDF:        KDF,
		Salt:       base64url.Encode(salt),
		IV:         base64url.Encode(iv),
		Ciphertext: base64url.Encode(ciphertext),
		TS:         c.now().UTC().Format(TimestampLayout),
	}, nil
}

// DecryptRaw validates data, derives the key and returns the plaintext JSON.
// Header problems are reported before any key derivation.
func (c *Codec) DecryptRaw(data *EncryptedPayload, passphrase string) (_ json.RawMessage, err error) {
	done := metrics.Track(metrics.OpDecrypt, "")
	defer func() { done(err) }()

	if data == nil {
		return nil, vaulterr.InvalidInput(vaulterr.OpDecrypt, "backup is nil")
	}
	if passphrase == "" {
		return nil, vaulterr.InvalidInput(vaulterr.OpDecrypt, "passphrase is empty")
	}

	d, err := data.validate()
	if err != nil {
		c.logger.Warn("backup rejected", logger.Op(vaulterr.OpDecrypt), logger.Error(err))
		return nil, err
	}

	cipher, err := c.deriveCipher(vaulterr.OpDecrypt, passphrase, d.salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := cipher.Decrypt(d.iv, d.ciphertext, nil)
	if err != nil {
		c.logger.Warn("backup authentication failed", logger.Op(vaulterr.OpDecrypt))
		return nil, vaulterr.Authentication(vaulterr.OpDecrypt)
	}

	if !json.Valid(plaintext) {
		return nil, vaulterr.Format(vaulterr.OpDecrypt, "decrypted content is not JSON")
	}
	return json.RawMessage(plaintext), nil
}

// Decrypt is DecryptRaw followed by unmarshalling into out.
func (c *Codec) Decrypt(data *EncryptedPayload, passphrase string, out any) error {
	raw, err := c.DecryptRaw(data, passphrase)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return vaulterr.Format(vaulterr.OpDecrypt, "decrypted content does not match target: %v", err)
	}
	return nil
}

func (c *Codec) deriveCipher(op, passphrase string, salt []byte) (*aead.Cipher, error) {
	key, err := c.kdf.DeriveKey([]byte(passphrase), c.params.WithSalt(salt))
	if err != nil {
		return nil, vaulterr.New(op, err)
	}
	defer zero(key)
	metrics.RecordKeyDerivation()

	cipher, err := aead.New(key, aead.WithRand(c.rng))
	if err != nil {
		return nil, vaulterr.New(op, err)
	}
	return cipher, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
