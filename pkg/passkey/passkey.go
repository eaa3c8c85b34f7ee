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

// Package passkey defines the boundary between go-keybox and the platform
// authenticator. The ceremony itself (WebAuthn, Touch ID, Windows Hello)
// happens elsewhere; this package only carries its outcome.
package passkey

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

// ErrCeremonyFailed is returned by an Authenticator when the user declined
// or the ceremony could not complete.
var ErrCeremonyFailed = errors.New("passkey: ceremony failed")

// Signal states that a ceremony succeeded for ProfileID at VerifiedAt.
type Signal struct {
	ProfileID  string
	VerifiedAt time.Time
}

// Validate checks that s was issued for profileID and is not older than
// maxAge relative to now. A zero maxAge disables the age check.
func (s Signal) Validate(profileID string, maxAge time.Duration, now time.Time) error {
	if s.ProfileID == "" || s.VerifiedAt.IsZero() {
		return vaulterr.ErrCeremonyRequired
	}
	if s.ProfileID != profileID {
		return fmt.Errorf("%w: signal issued for another profile", vaulterr.ErrCeremonyRequired)
	}
	if maxAge > 0 {
		age := now.Sub(s.VerifiedAt)
		if age > maxAge || age < -maxAge {
			return fmt.Errorf("%w: signal expired", vaulterr.ErrCeremonyRequired)
		}
	}
	return nil
}

// Authenticator runs a ceremony for a profile.
type Authenticator interface {
	Verify(ctx context.Context, profileID string) (Signal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, profileID string) (Signal, error)

// Verify calls f.
func (f AuthenticatorFunc) Verify(ctx context.Context, profileID string) (Signal, error) {
	return f(ctx, profileID)
}

// ConsoleAuthenticator asks for confirmation on a terminal. It stands in for
// a platform authenticator on hosts that have none.
type ConsoleAuthenticator struct {
	In    io.Reader
	Out   io.Writer
	Clock func() time.Time
}

// Verify prompts for a yes/no answer and issues a Signal on "y" or "yes".
func (c *ConsoleAuthenticator) Verify(ctx context.Context, profileID string) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	if c.Out != nil {
		fmt.Fprintf(c.Out, "Confirm passkey for profile %q [y/N]: ", profileID)
	}

	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Signal{}, fmt.Errorf("%w: %v", ErrCeremonyFailed, err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
	default:
		return Signal{}, ErrCeremonyFailed
	}

	now := time.Now
	if c.Clock != nil {
		now = c.Clock
	}
	return Signal{ProfileID: profileID, VerifiedAt: now()}, nil
}
