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

// Package base64url implements the binary-to-text encoding used by every
// on-disk record in go-keybox: the URL-safe base64 alphabet (RFC 4648 §5)
// with padding stripped.
//
// Encode never emits '=' padding. Decode accepts input with or without
// padding so that records written by other encoders remain readable.
package base64url

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidEncoding is returned when the input is not valid base64url.
var ErrInvalidEncoding = errors.New("base64url: invalid encoding")

// Encode returns the unpadded base64url encoding of b.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode decodes an unpadded or padded base64url string.
//
// The standard alphabet characters '+' and '/' are rejected rather than
// silently translated.
func Decode(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if len(s)-len(trimmed) > 2 {
		return nil, fmt.Errorf("%w: excess padding", ErrInvalidEncoding)
	}
	out, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return out, nil
}

// DecodeLen decodes s and verifies the result is exactly n bytes long.
func DecodeLen(s string, n int) ([]byte, error) {
	out, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidEncoding, len(out), n)
	}
	return out, nil
}
