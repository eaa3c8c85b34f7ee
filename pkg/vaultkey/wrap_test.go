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
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keyrand "github.com/jeremyhahn/go-keybox/pkg/crypto/rand"
	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, KeySize)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	master := randomKey(t)
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	record, err := Wrap(master, unwrapKey, nil)
	require.NoError(t, err)
	assert.Equal(t, Algorithm, record.Alg)
	assert.Len(t, record.IV, 12)
	assert.NotContains(t, string(record.WrappedKey), string(master))

	mk, err := Unwrap(record, unwrapKey)
	require.NoError(t, err)

	// The unwrapped handle must open data sealed under the original bytes.
	reference, err := newMasterKey(master, nil, usageLimits{})
	require.NoError(t, err)
	sealed, err := reference.Encrypt([]byte("known plaintext"), []byte("ad"))
	require.NoError(t, err)

	plaintext, err := mk.Decrypt(sealed, []byte("ad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("known plaintext"), plaintext)

	sealed, err = mk.Encrypt([]byte("other direction"), nil)
	require.NoError(t, err)
	plaintext, err = reference.Decrypt(sealed, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("other direction"), plaintext)
}

func TestWrap_FreshIV(t *testing.T) {
	master := randomKey(t)
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	a, err := Wrap(master, unwrapKey, nil)
	require.NoError(t, err)
	b, err := Wrap(master, unwrapKey, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.WrappedKey, b.WrappedKey)
}

func TestWrap_InvalidInput(t *testing.T) {
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	_, err = Wrap(make([]byte, 16), unwrapKey, nil)
	assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)

	_, err = Wrap(randomKey(t), nil, nil)
	assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)
}

func TestUnwrap_Failures(t *testing.T) {
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)
	other, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	record, err := Wrap(randomKey(t), unwrapKey, nil)
	require.NoError(t, err)

	t.Run("wrong unwrap key", func(t *testing.T) {
		_, err := Unwrap(record, other)
		assert.ErrorIs(t, err, vaulterr.ErrAuthentication)
		assert.Equal(t, "unable to unlock", vaulterr.UserMessage(err))
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := *record
		tampered.WrappedKey = bytes.Clone(record.WrappedKey)
		tampered.WrappedKey[0] ^= 0x80
		_, err := Unwrap(&tampered, unwrapKey)
		assert.ErrorIs(t, err, vaulterr.ErrAuthentication)
	})

	t.Run("bad algorithm", func(t *testing.T) {
		bad := *record
		bad.Alg = "AES-KW"
		_, err := Unwrap(&bad, unwrapKey)
		assert.ErrorIs(t, err, vaulterr.ErrFormat)
	})

	t.Run("nil", func(t *testing.T) {
		_, err := Unwrap(nil, unwrapKey)
		assert.ErrorIs(t, err, vaulterr.ErrInvalidInput)
	})
}

func TestUnwrapKey_RandSource(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, KeySize)
	key, err := NewUnwrapKey(keyrand.FromReader(bytes.NewReader(seed)))
	require.NoError(t, err)

	data, err := key.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, seed, data)

	_, err = NewUnwrapKey(keyrand.FromReader(bytes.NewReader(seed[:4])))
	assert.Error(t, err)
}

func TestUnwrapKey_Binary(t *testing.T) {
	key, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	data, err := key.MarshalBinary()
	require.NoError(t, err)

	var loaded UnwrapKey
	require.NoError(t, loaded.UnmarshalBinary(data))
	assert.Equal(t, key.b, loaded.b)

	assert.ErrorIs(t, loaded.UnmarshalBinary([]byte{1, 2, 3}), vaulterr.ErrFormat)

	key.Destroy()
	assert.Equal(t, [KeySize]byte{}, key.b)
}

func TestRedaction(t *testing.T) {
	master := randomKey(t)
	mk, err := newMasterKey(master, nil, usageLimits{})
	require.NoError(t, err)
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)

	for _, v := range []any{mk, unwrapKey} {
		assert.Contains(t, fmt.Sprintf("%v", v), "REDACTED")
		assert.Contains(t, fmt.Sprintf("%+v", v), "REDACTED")
		assert.Contains(t, fmt.Sprintf("%#v", v), "REDACTED")

		data, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, `"[REDACTED]"`, string(data))
	}
}

func TestWrappedKeyRecord_JSON(t *testing.T) {
	unwrapKey, err := NewUnwrapKey(nil)
	require.NoError(t, err)
	created := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	record, err := wrapAt(randomKey(t), unwrapKey, nil, created)
	require.NoError(t, err)

	data, err := json.Marshal(record)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "AES-GCM", fields["alg"])
	assert.EqualValues(t, created.UnixMilli(), fields["createdAt"])
	assert.NotContains(t, fields["wrappedKey"], "=")
	assert.NotContains(t, fields["iv"], "=")

	var decoded WrappedKeyRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record.WrappedKey, decoded.WrappedKey)
	assert.Equal(t, record.IV, decoded.IV)
	assert.True(t, created.Equal(decoded.CreatedAt))

	err = json.Unmarshal([]byte(`{"wrappedKey":"AA","iv":"AA","alg":"AES-GCM","createdAt":0}`), &decoded)
	assert.ErrorIs(t, err, vaulterr.ErrFormat)
}
