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

package storage

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-keybox/pkg/encoding/base64url"
)

const (
	profilesPrefix = "profiles/"
	entriesPrefix  = "entries/"

	maxSegmentLength = 128

	// Encoded ids must fit in a 255 byte file name.
	maxEntryIDLength = 180
)

// ValidateSegment checks that s can be used verbatim as one path segment of
// a storage key on every backend.
func ValidateSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrInvalidKey)
	}
	if len(s) > maxSegmentLength {
		return fmt.Errorf("%w: segment longer than %d bytes", ErrInvalidKey, maxSegmentLength)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '@', r == '+':
		default:
			return fmt.Errorf("%w: invalid character %q", ErrInvalidKey, r)
		}
	}
	return nil
}

// SlotPath returns the storage path for a profile slot.
// The path follows the convention: profiles/{profile}/{slot}
func SlotPath(profile, slot string) (string, error) {
	if err := ValidateSegment(profile); err != nil {
		return "", err
	}
	if err := ValidateSegment(slot); err != nil {
		return "", err
	}
	return profilesPrefix + profile + "/" + slot, nil
}

// EntryPrefix returns the prefix under which a profile's entries are stored.
// The path follows the convention: entries/{profile}/
func EntryPrefix(profile string) (string, error) {
	if err := ValidateSegment(profile); err != nil {
		return "", err
	}
	return entriesPrefix + profile + "/", nil
}

// EntryPath returns the storage path for an entry. Entry ids are arbitrary
// strings, so they are base64url encoded to form a safe segment.
func EntryPath(profile, id string) (string, error) {
	prefix, err := EntryPrefix(profile)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty entry id", ErrInvalidKey)
	}
	if len(id) > maxEntryIDLength {
		return "", fmt.Errorf("%w: entry id longer than %d bytes", ErrInvalidKey, maxEntryIDLength)
	}
	return prefix + base64url.Encode([]byte(id)), nil
}

// EntryID recovers the entry id from a path produced by EntryPath.
func EntryID(profile, key string) (string, error) {
	prefix, err := EntryPrefix(profile)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(key, prefix) {
		return "", fmt.Errorf("%w: %q is not an entry of %q", ErrInvalidKey, key, profile)
	}
	raw, err := base64url.Decode(strings.TrimPrefix(key, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return string(raw), nil
}

// ListEntryKeys returns the storage keys of every entry of profile.
func ListEntryKeys(backend Backend, profile string) ([]string, error) {
	prefix, err := EntryPrefix(profile)
	if err != nil {
		return nil, err
	}
	return backend.List(prefix)
}
