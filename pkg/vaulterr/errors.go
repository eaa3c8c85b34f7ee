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

// Package vaulterr defines the error taxonomy shared by the backup codec, the
// vault key manager and the restore service.
//
// Callers branch on the sentinel errors with errors.Is. Messages shown to an
// end user should come from UserMessage, which deliberately collapses every
// authentication failure into a single vague string so that the caller
// cannot tell a wrong passphrase from a corrupted or tampered file.
package vaulterr

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrFormat is returned for an unsupported backup version or algorithm tag,
	// or a structurally invalid record. Not retryable.
	ErrFormat = errors.New("invalid backup format")

	// ErrAuthentication is returned when AEAD tag verification fails during
	// decrypt or unwrap. Not retryable with the same inputs.
	ErrAuthentication = errors.New("authentication failed")

	// ErrStorageUnavailable is returned when the persistent store could not be
	// opened, read or written. Retryable at the caller's discretion.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidInput is returned when input is rejected before any
	// cryptographic work begins (empty passphrase, malformed JSON).
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotEnrolled is returned when a profile has no passkey configured.
	ErrNotEnrolled = errors.New("no passkey configured")

	// ErrCeremonyRequired is returned when an operation is attempted without a
	// successful authenticator ceremony for the profile.
	ErrCeremonyRequired = errors.New("authenticator ceremony required")

	// ErrConfirmationRequired is returned when a destructive restore is
	// requested without explicit confirmation.
	ErrConfirmationRequired = errors.New("explicit confirmation required")

	// ErrProfileMismatch is returned when a decrypted backup belongs to a
	// different profile.
	ErrProfileMismatch = errors.New("backup belongs to another profile")

	// ErrRateLimited is returned when too many attempts were made for a profile.
	ErrRateLimited = errors.New("too many attempts")
)

// Operation names recorded in Error.Op.
const (
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpWrap    = "wrap"
	OpUnwrap  = "unwrap"
	OpEnroll  = "enroll"
	OpUnlock  = "unlock"
	OpStore   = "store"
	OpExport  = "export"
	OpImport  = "import"
)

// Error wraps an error with the operation that produced it.
type Error struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error for op wrapping err.
func New(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Wrap returns an *Error for op whose chain contains both kind and cause.
// The cause is kept for logging; kind is what callers match on.
func Wrap(op string, kind, cause error) error {
	if cause == nil {
		return &Error{Op: op, Err: kind}
	}
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", kind, cause)}
}

// Format returns an ErrFormat for op with a detail message.
func Format(op, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))}
}

// InvalidInput returns an ErrInvalidInput for op with a detail message.
func InvalidInput(op, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))}
}

// Authentication returns an ErrAuthentication for op. No detail is attached.
func Authentication(op string) error {
	return &Error{Op: op, Err: ErrAuthentication}
}

// StorageUnavailable returns an ErrStorageUnavailable for op wrapping cause.
func StorageUnavailable(op string, cause error) error {
	return Wrap(op, ErrStorageUnavailable, cause)
}

// IsRetryable reports whether the caller may retry the same operation with
// the same inputs.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrRateLimited)
}

// UserMessage maps err to the message shown to an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var op string
	var e *Error
	if errors.As(err, &e) {
		op = e.Op
	}

	switch {
	case errors.Is(err, ErrFormat):
		return "invalid backup format"
	case errors.Is(err, ErrAuthentication):
		if op == OpUnwrap || op == OpUnlock {
			return "unable to unlock"
		}
		return "wrong passphrase or corrupted file"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage unavailable, please retry"
	case errors.Is(err, ErrNotEnrolled):
		return "no passkey configured on this device"
	case errors.Is(err, ErrCeremonyRequired):
		return "passkey verification required"
	case errors.Is(err, ErrConfirmationRequired):
		return "please confirm the full replacement"
	case errors.Is(err, ErrProfileMismatch):
		return "backup belongs to another user"
	case errors.Is(err, ErrRateLimited):
		return "too many attempts, please wait"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	default:
		return "operation failed"
	}
}
