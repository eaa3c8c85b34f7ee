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

package base64url

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_NoPaddingURLAlphabet(t *testing.T) {
	// 0xfb 0xff produces '+' and '/' in the standard alphabet.
	in := []byte{0xfb, 0xff, 0xbf}
	got := Encode(in)

	assert.Equal(t, "-_-_", got)
	assert.NotContains(t, Encode([]byte{1}), "=")
	assert.NotContains(t, got, "+")
	assert.NotContains(t, got, "/")
}

func TestDecode_InverseOfEncode(t *testing.T) {
	for n := 0; n <= 64; n++ {
		buf := make([]byte, n)
		_, err := rand.Read(buf)
		require.NoError(t, err)

		decoded, err := Decode(Encode(buf))
		require.NoError(t, err, "length %d", n)
		assert.True(t, bytes.Equal(buf, decoded), "length %d", n)
	}
}

func TestDecode_AcceptsPadding(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{name: "one byte", in: []byte{0x01}},
		{name: "two bytes", in: []byte{0x01, 0x02}},
		{name: "three bytes", in: []byte{0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			padded := base64.URLEncoding.EncodeToString(tt.in)
			got, err := Decode(padded)
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "standard alphabet plus", in: "a+b"},
		{name: "standard alphabet slash", in: "a/bc"},
		{name: "impossible length", in: "a"},
		{name: "excess padding", in: "AQ==="},
		{name: "whitespace", in: "AQ I"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.in)
			assert.ErrorIs(t, err, ErrInvalidEncoding)
		})
	}
}

func TestDecodeLen(t *testing.T) {
	iv := bytes.Repeat([]byte{0xaa}, 12)

	got, err := DecodeLen(Encode(iv), 12)
	require.NoError(t, err)
	assert.Equal(t, iv, got)

	_, err = DecodeLen(Encode(iv), 16)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
	assert.True(t, strings.Contains(err.Error(), "want 16"))
}
