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

package passkey

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/vaulterr"
)

func TestSignal_Validate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		signal  Signal
		maxAge  time.Duration
		wantErr bool
	}{
		{"fresh", Signal{ProfileID: "alice", VerifiedAt: now.Add(-time.Second)}, time.Minute, false},
		{"no age limit", Signal{ProfileID: "alice", VerifiedAt: now.Add(-time.Hour)}, 0, false},
		{"zero signal", Signal{}, time.Minute, true},
		{"other profile", Signal{ProfileID: "bob", VerifiedAt: now}, time.Minute, true},
		{"expired", Signal{ProfileID: "alice", VerifiedAt: now.Add(-2 * time.Minute)}, time.Minute, true},
		{"future", Signal{ProfileID: "alice", VerifiedAt: now.Add(2 * time.Minute)}, time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.signal.Validate("alice", tt.maxAge, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, vaulterr.ErrCeremonyRequired)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAuthenticatorFunc(t *testing.T) {
	var got string
	auth := AuthenticatorFunc(func(_ context.Context, profileID string) (Signal, error) {
		got = profileID
		return Signal{ProfileID: profileID, VerifiedAt: time.Unix(1, 0)}, nil
	})

	sig, err := auth.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
	assert.Equal(t, "alice", sig.ProfileID)
}

func TestConsoleAuthenticator(t *testing.T) {
	fixed := time.Unix(1700000000, 0)

	tests := []struct {
		input   string
		wantErr bool
	}{
		{"y\n", false},
		{"YES\n", false},
		{"yes", false},
		{"n\n", true},
		{"\n", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			auth := &ConsoleAuthenticator{
				In:    strings.NewReader(tt.input),
				Out:   &out,
				Clock: func() time.Time { return fixed },
			}

			sig, err := auth.Verify(context.Background(), "alice")
			assert.Contains(t, out.String(), `"alice"`)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCeremonyFailed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Signal{ProfileID: "alice", VerifiedAt: fixed}, sig)
		})
	}
}

func TestConsoleAuthenticator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	auth := &ConsoleAuthenticator{In: strings.NewReader("y\n")}
	_, err := auth.Verify(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}
